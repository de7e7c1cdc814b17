package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/store"
)

const (
	defaultMediaLimit = 100
	maxMediaLimit     = 1000
	captureTimeout    = 3 * time.Second
)

// CaptureHandler exposes read-only views of the media capture index.
type CaptureHandler struct {
	repo    store.CaptureRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewCaptureHandler wires the repository and logger.
func NewCaptureHandler(repo store.CaptureRepository, logger *zap.Logger) *CaptureHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureHandler{
		repo:    repo,
		timeout: captureTimeout,
		logger:  logger,
	}
}

// GetCrawl handles GET /v1/crawls/{crawl_id}. It returns {"crawl": {...}} on
// success, 400 for malformed IDs, 404 when the repository reports
// store.ErrNotFound, 503 without a repository, or 500 otherwise.
func (h *CaptureHandler) GetCrawl(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "capture repository unavailable")
		return
	}
	crawlID, err := parseCrawlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetCrawl(ctx, crawlID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		h.logger.Error("get crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": toCrawlDTO(run)})
}

// ListMediaForPage handles GET /v1/crawls/{crawl_id}/media?page=&limit=&offset=
// and returns {"media": [...]} for the media captured from one containing page.
func (h *CaptureHandler) ListMediaForPage(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "capture repository unavailable")
		return
	}
	crawlID, err := parseCrawlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := strings.TrimSpace(r.URL.Query().Get("page"))
	if page == "" {
		writeError(w, http.StatusBadRequest, "page is required")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultMediaLimit, maxMediaLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	media, err := h.repo.ListMediaForPage(ctx, crawlID, page, limit, offset)
	if err != nil {
		h.logger.Error("list media failed", zap.String("page", page), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": toMediaDTOs(media)})
}

func parseCrawlID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "crawl_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("crawl_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid crawl_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toCrawlDTO(run store.CrawlRun) crawlDTO {
	return crawlDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

func toMediaDTOs(in []store.MediaCapture) []mediaDTO {
	out := make([]mediaDTO, 0, len(in))
	for _, m := range in {
		out = append(out, mediaDTO{
			URL:                 m.URL,
			Annotation:          m.Annotation,
			Status:              m.Status,
			Bytes:               m.Bytes,
			Digest:              m.Digest,
			Timestamp:           m.Timestamp,
			ContainingURL:       m.ContainingURL,
			ContainingTimestamp: m.ContainingTimestamp,
			ContainingDigest:    m.ContainingDigest,
			Seed:                m.Seed,
			CapturedAt:          m.CapturedAt,
		})
	}
	return out
}

type crawlDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type mediaDTO struct {
	URL                 string    `json:"url"`
	Annotation          string    `json:"annotation"`
	Status              int       `json:"status"`
	Bytes               int64     `json:"bytes"`
	Digest              string    `json:"digest,omitempty"`
	Timestamp           string    `json:"timestamp"`
	ContainingURL       string    `json:"containing_url"`
	ContainingTimestamp string    `json:"containing_timestamp"`
	ContainingDigest    string    `json:"containing_digest,omitempty"`
	Seed                string    `json:"seed,omitempty"`
	CapturedAt          time.Time `json:"captured_at"`
}
