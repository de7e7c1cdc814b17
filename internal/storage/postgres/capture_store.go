// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mediacrawler/internal/store"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CaptureStore implements store.CaptureRepository using Postgres.
type CaptureStore struct {
	pool pool
}

var _ store.CaptureRepository = (*CaptureStore)(nil)

// NewCaptureStore connects a pool using cfg.
func NewCaptureStore(ctx context.Context, cfg Config) (*CaptureStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CaptureStore{pool: p}, nil
}

// NewCaptureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCaptureStoreWithPool(p pool) (*CaptureStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &CaptureStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *CaptureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the capture tables when they are missing.
func (s *CaptureStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertCrawlStart inserts or updates a crawl's start time.
func (s *CaptureStore) UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE crawl_runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, crawlID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert crawl start: %w", err)
	}
	return nil
}

// CompleteCrawl marks a crawl as completed with a status and optional error message.
func (s *CaptureStore) CompleteCrawl(
	ctx context.Context,
	crawlID uuid.UUID,
	finishedAt time.Time,
	status store.CrawlStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, crawlID); err != nil {
		return fmt.Errorf("failed to complete crawl: %w", err)
	}
	return nil
}

var statusColumns = map[string]string{
	"2xx": "fetch_2xx",
	"3xx": "fetch_3xx",
	"4xx": "fetch_4xx",
	"5xx": "fetch_5xx",
}

// UpsertSiteStats updates the statistics for a given site within a crawl.
func (s *CaptureStore) UpsertSiteStats(
	ctx context.Context,
	crawlID uuid.UUID,
	site string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	column, ok := statusColumns[statusClass]
	if !ok {
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	update := fmt.Sprintf(`UPDATE site_stats SET visits = visits + $1,
		bytes_total = bytes_total + $2,
		%[1]s = %[1]s + $1,
		last_update = $3
		WHERE crawl_id = $4 AND site = $5;`, column)

	res, err := s.pool.Exec(ctx, update, deltaVisits, deltaBytes, at, crawlID, site)
	if err != nil {
		return fmt.Errorf("failed to update site stats: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}

	counts := map[string]int64{column: deltaVisits}
	insert := `
		INSERT INTO site_stats (crawl_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (crawl_id, site) DO NOTHING;
	`
	_, err = s.pool.Exec(
		ctx,
		insert,
		crawlID,
		site,
		at,
		deltaVisits,
		deltaBytes,
		counts["fetch_2xx"],
		counts["fetch_3xx"],
		counts["fetch_4xx"],
		counts["fetch_5xx"],
	)
	if err != nil {
		return fmt.Errorf("failed to insert site stats: %w", err)
	}
	return nil
}

// RecordContainingPage stores a page whose discovery found media. Re-recording
// the same page within a crawl updates its counts.
func (s *CaptureStore) RecordContainingPage(ctx context.Context, page store.ContainingPage) error {
	query := `
		INSERT INTO containing_pages (crawl_id, url, fetch_ts, digest, annotation, videos, pages, seed, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (crawl_id, url, fetch_ts) DO UPDATE
		SET videos = EXCLUDED.videos, pages = EXCLUDED.pages, annotation = EXCLUDED.annotation;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		page.CrawlID,
		page.URL,
		page.Timestamp,
		page.Digest,
		page.Annotation,
		page.Videos,
		page.Pages,
		page.Seed,
		page.SeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record containing page: %w", err)
	}
	return nil
}

// RecordMediaCapture stores a captured media resource.
func (s *CaptureStore) RecordMediaCapture(ctx context.Context, media store.MediaCapture) error {
	query := `
		INSERT INTO media_captures (
			crawl_id, url, annotation, status, bytes, digest, fetch_ts,
			containing_url, containing_ts, containing_digest, seed, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (crawl_id, url, fetch_ts) DO NOTHING;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		media.CrawlID,
		media.URL,
		media.Annotation,
		media.Status,
		media.Bytes,
		media.Digest,
		media.Timestamp,
		media.ContainingURL,
		media.ContainingTimestamp,
		media.ContainingDigest,
		media.Seed,
		media.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record media capture: %w", err)
	}
	return nil
}

// RecordMetadata stores the archive position of a discovery output.
func (s *CaptureStore) RecordMetadata(ctx context.Context, rec store.MetadataRecord) error {
	query := `
		INSERT INTO metadata_records (crawl_id, url, containing_url, digest, bytes, warc_filename, warc_offset, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		rec.CrawlID,
		rec.URL,
		rec.ContainingURL,
		rec.Digest,
		rec.Bytes,
		rec.WARCFilename,
		rec.WARCOffset,
		rec.WrittenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record metadata: %w", err)
	}
	return nil
}

// GetCrawl retrieves a single crawl run by its ID.
func (s *CaptureStore) GetCrawl(ctx context.Context, crawlID uuid.UUID) (store.CrawlRun, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.CrawlRun
	err := s.pool.QueryRow(ctx, query, crawlID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("failed to get crawl: %w", err)
	}
	return run, nil
}

// ListMediaForPage returns the media captured from pageURL, newest first.
func (s *CaptureStore) ListMediaForPage(
	ctx context.Context,
	crawlID uuid.UUID,
	pageURL string,
	limit,
	offset int,
) ([]store.MediaCapture, error) {
	query := `
		SELECT crawl_id, url, annotation, status, bytes, digest, fetch_ts,
			containing_url, containing_ts, containing_digest, seed, captured_at
		FROM media_captures
		WHERE crawl_id = $1 AND containing_url = $2
		ORDER BY captured_at DESC
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, crawlID, pageURL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var out []store.MediaCapture
	for rows.Next() {
		var m store.MediaCapture
		if err := rows.Scan(
			&m.CrawlID,
			&m.URL,
			&m.Annotation,
			&m.Status,
			&m.Bytes,
			&m.Digest,
			&m.Timestamp,
			&m.ContainingURL,
			&m.ContainingTimestamp,
			&m.ContainingDigest,
			&m.Seed,
			&m.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media rows: %w", err)
	}
	return out, nil
}
