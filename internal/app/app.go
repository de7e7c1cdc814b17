// Package app initializes and holds long-lived crawl services, acting as a
// dependency injection container. New builds every component from a
// config.Config; Run drives a crawl; Close releases what New acquired.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediacrawler/internal/api"
	"github.com/JakeFAU/mediacrawler/internal/archive"
	"github.com/JakeFAU/mediacrawler/internal/capturelog"
	"github.com/JakeFAU/mediacrawler/internal/clock/system"
	"github.com/JakeFAU/mediacrawler/internal/config"
	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/crawllog"
	"github.com/JakeFAU/mediacrawler/internal/dispatcher"
	"github.com/JakeFAU/mediacrawler/internal/extractor/links"
	"github.com/JakeFAU/mediacrawler/internal/extractor/media"
	collyfetcher "github.com/JakeFAU/mediacrawler/internal/fetcher/colly"
	"github.com/JakeFAU/mediacrawler/internal/frontier"
	"github.com/JakeFAU/mediacrawler/internal/hash/sha1"
	idgen "github.com/JakeFAU/mediacrawler/internal/id/uuid"
	"github.com/JakeFAU/mediacrawler/internal/logging"
	"github.com/JakeFAU/mediacrawler/internal/metrics"
	"github.com/JakeFAU/mediacrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/mediacrawler/internal/policy/scope"
	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/mediacrawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/mediacrawler/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/mediacrawler/internal/queue/pubsub"
	"github.com/JakeFAU/mediacrawler/internal/storage/gcs"
	"github.com/JakeFAU/mediacrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/mediacrawler/internal/storage/memory"
	"github.com/JakeFAU/mediacrawler/internal/storage/postgres"
	"github.com/JakeFAU/mediacrawler/internal/store"
	"github.com/JakeFAU/mediacrawler/internal/worker"
	"github.com/JakeFAU/mediacrawler/internal/ytdlp"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second

	defaultCaptureTopic = "captures"
)

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	fs         afero.Fs
	captures   store.CaptureRepository
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	clock      crawler.Clock
}

// WithRegisterer registers progress collectors on reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFs keeps archive and scratch files on fs instead of the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithCaptureRepository replaces the configured capture index.
func WithCaptureRepository(repo store.CaptureRepository) Option {
	return func(o *options) { o.captures = repo }
}

// WithBlobStore replaces the configured archive upload target.
func WithBlobStore(bs crawler.BlobStore) Option {
	return func(o *options) { o.blobs = bs }
}

// WithPublisher sends capture events to pub instead of the configured Pub/Sub
// topic.
func WithPublisher(pub crawler.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds all the shared, long-lived services for one crawl.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	crawlID uuid.UUID
	clock   crawler.Clock

	queue      *queuememory.Queue
	seen       *frontier.SeenSet
	frontier   *frontier.Frontier
	dispatcher *dispatcher.Dispatcher
	hub        *progress.Hub
	archive    *archive.Writer
	captures   store.CaptureRepository
	receiver   *queuepubsub.Receiver
	server     *http.Server

	// closers run in reverse order on Close.
	closers   []func(context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// New creates and initializes an App from cfg. It fails fast if any
// configured service cannot be initialized, releasing whatever was already
// opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{fs: afero.NewOsFs(), clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		logger:  logger,
		crawlID: uuid.New(),
		clock:   o.clock,
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	logger.Info("initializing crawl services", zap.Stringer("crawl_id", a.crawlID))

	hasher := sha1.New()
	ids := idgen.New()

	crawlLines, err := a.openLineLog(crawllog.FileName)
	if err != nil {
		return nil, err
	}
	captureLines, err := a.openLineLog(capturelog.FileName)
	if err != nil {
		return nil, err
	}

	var pubsubClient *pubsub.Client
	if cfg.PubSub.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		a.onClose(func(context.Context) error { return pubsubClient.Close() })
	}

	a.captures = o.captures
	if a.captures == nil {
		if a.captures, err = a.openCaptureRepository(ctx); err != nil {
			return nil, err
		}
	}

	hubSinks, err := a.buildSinks(o.registerer, o.publisher, pubsubClient)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{
		CrawlID: progress.UUIDToBytes(a.crawlID),
		Now:     a.clock.Now,
		Logger:  logger.Named("progress"),
	}, hubSinks...)
	a.onClose(a.hub.Close)

	if cfg.Archive.Enabled {
		blobs := o.blobs
		if blobs == nil {
			if blobs, err = a.openBlobStore(ctx, o.fs); err != nil {
				return nil, err
			}
		}
		a.archive = archive.NewWriter(o.fs, archive.Config{
			Dir:          cfg.Archive.Dir,
			Prefix:       cfg.Archive.Prefix,
			MaxSize:      cfg.Archive.MaxSize,
			UploadPrefix: cfg.Archive.UploadPrefix,
			KeepLocal:    cfg.Archive.KeepLocal,
		}, blobs, ids, a.clock, logger)
		a.onClose(a.archive.Close)
	}

	a.seen, err = frontier.OpenSeenSet(frontier.SeenConfig{
		Dir:    cfg.State.SeenDir,
		Resume: cfg.State.Resume,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open seen-set: %w", err)
	}
	a.onClose(func(context.Context) error { return a.seen.Close() })

	a.queue = queuememory.NewQueue(cfg.Crawler.QueueSize)
	policy := scope.New(scope.Config{
		MaxHops:      cfg.Crawler.MaxHops,
		MaxTransHops: cfg.Crawler.MaxTransHops,
		Blocklist:    cfg.Crawler.Blocklist,
		AllowHosts:   cfg.Crawler.AllowHosts,
	})
	a.frontier = frontier.New(a.queue, a.seen, policy, logger)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxBodySize:   cfg.HTTP.MaxBodySize,
	}, logger)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
		PerHostRPS:   cfg.Crawler.PerHostRPS,
	})
	crawlLog := crawllog.New(crawlLines)

	var mediaExtractor *media.Extractor
	if cfg.Extractor.MediaEnabled {
		runner := ytdlp.NewRunner(ytdlp.Config{
			Args:        cfg.Extractor.YtdlpArgs,
			ExitTimeout: cfg.Extractor.ExitTimeout,
			RunTimeout:  cfg.Extractor.RunTimeout,
		}, logger)
		mediaExtractor = media.New(
			runner,
			capturelog.New(captureLines),
			crawlLog,
			hasher,
			ids,
			a.hub,
			a.clock,
			o.fs,
			media.Config{
				LogMetadataRecord: cfg.Extractor.LogMetadataRecord,
				ScratchDir:        cfg.Extractor.ScratchDir,
				CrawlID:           progress.UUIDToBytes(a.crawlID),
			},
			logger,
		)
	}

	httpLinks := links.NewHTTPExtractor(logger)
	htmlLinks := links.NewHTMLExtractor(cfg.Extractor.MaxOutlinks, logger)
	workerCfg := worker.Config{
		UserAgent:        cfg.Crawler.UserAgent,
		MaxRetries:       cfg.Crawler.MaxRetries,
		RetryBackoffBase: cfg.Crawler.RetryBackoff,
		CrawlID:          progress.UUIDToBytes(a.crawlID),
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Workers)
	for i := range cfg.Crawler.Workers {
		pipeline := worker.Pipeline{
			Extractors: []crawler.Extractor{httpLinks, htmlLinks},
			CrawlLog:   crawlLog,
		}
		if a.archive != nil {
			pipeline.Archive = a.archive
		}
		if mediaExtractor != nil {
			session := mediaExtractor.NewSession(i)
			pipeline.Extractors = append(pipeline.Extractors, session)
			pipeline.Builders = append(pipeline.Builders, session)
		}
		runners = append(runners, worker.New(
			i,
			a.queue,
			fetcher,
			a.frontier,
			limiter,
			hasher,
			ids,
			a.clock,
			pipeline,
			a.hub,
			workerCfg,
			logger,
		))
	}
	a.dispatcher = dispatcher.New(a.queue, runners, logger)

	if pubsubClient != nil && cfg.PubSub.Subscription != "" {
		a.receiver = queuepubsub.NewReceiver(pubsubClient.Subscription(cfg.PubSub.Subscription), a.frontier, logger)
	}

	if cfg.Server.Enabled {
		apiServer := api.NewServer(a.frontier, a.captures, api.Options{APIKey: cfg.Server.APIKey}, logger)
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	logger.Info("crawl services initialized",
		zap.Int("workers", a.dispatcher.Size()),
		zap.Bool("media", mediaExtractor != nil),
		zap.Bool("archive", a.archive != nil),
		zap.Bool("receiver", a.receiver != nil),
		zap.Bool("server", a.server != nil),
	)
	return a, nil
}

// CrawlID identifies this crawl in events and the capture index.
func (a *App) CrawlID() uuid.UUID {
	return a.crawlID
}

// Frontier exposes the crawl frontier, e.g. for seeding.
func (a *App) Frontier() *frontier.Frontier {
	return a.frontier
}

// Captures exposes the capture index.
func (a *App) Captures() store.CaptureRepository {
	return a.captures
}

// Run seeds the frontier and crawls until ctx is canceled or, when
// crawler.exit_when_idle is set, until the frontier runs dry.
func (a *App) Run(ctx context.Context, seeds ...string) error {
	a.emitCrawl(progress.StageCrawlStart, "")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return a.frontier.Run(gctx)
	})
	g.Go(func() error {
		a.dispatcher.Run(gctx)
		return nil
	})
	if a.receiver != nil {
		g.Go(func() error {
			return a.receiver.Run(gctx)
		})
	}
	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("http server started", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			return nil
		})
	}

	added := 0
	for _, seed := range slices.Concat(a.cfg.Crawler.Seeds, seeds) {
		if err := a.frontier.AddSeed(gctx, seed); err != nil {
			a.logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
			continue
		}
		added++
	}
	a.logger.Info("crawl started", zap.Stringer("crawl_id", a.crawlID), zap.Int("seeds", added))

	if a.cfg.Crawler.ExitWhenIdle && a.receiver == nil {
		if err := a.frontier.WaitIdle(gctx); err == nil {
			a.logger.Info("frontier is idle, finishing crawl")
		}
	} else {
		<-gctx.Done()
	}
	cancel()
	a.queue.Close()

	err := g.Wait()
	if err != nil {
		a.logger.Error("crawl failed", zap.Error(err))
		a.emitCrawl(progress.StageCrawlError, err.Error())
		return fmt.Errorf("crawl %s: %w", a.crawlID, err)
	}
	a.logger.Info("crawl finished", zap.Stringer("crawl_id", a.crawlID), zap.Int64("seen", a.seen.Len()))
	a.emitCrawl(progress.StageCrawlDone, "")
	return nil
}

// Close gracefully shuts down all services in reverse order of creation.
// It flushes progress sinks and uploads the last archive file.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				a.logger.Warn("problem closing service", zap.Error(err))
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) emitCrawl(stage progress.Stage, note string) {
	if a.hub == nil {
		return
	}
	a.hub.Emit(progress.Event{Stage: stage, Note: note})
}

func (a *App) openLineLog(name string) (*zap.Logger, error) {
	if a.cfg.Logging.Dir == "" {
		return zap.NewNop(), nil
	}
	lines, closeFn, err := logging.NewSimpleLog(filepath.Join(a.cfg.Logging.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	a.onClose(func(context.Context) error { return closeFn() })
	return lines, nil
}

func (a *App) openCaptureRepository(ctx context.Context) (store.CaptureRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory capture index")
		return memorystorage.NewCaptureStore(), nil
	}
	a.logger.Info("connecting to postgres capture index")
	pg, err := postgres.NewCaptureStore(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open capture index: %w", err)
	}
	a.onClose(func(context.Context) error {
		pg.Close()
		return nil
	})
	if a.cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure capture schema: %w", err)
		}
	}
	return pg, nil
}

func (a *App) openBlobStore(ctx context.Context, fs afero.Fs) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageMemory:
		return memorystorage.NewBlobStore(), nil
	case config.StorageLocal:
		bs, err := local.New(fs, local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return bs, nil
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		bs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		return bs, nil
	default:
		return nil, nil
	}
}

func (a *App) buildSinks(reg prometheus.Registerer, pub crawler.Publisher, client *pubsub.Client) ([]progress.Sink, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	out := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.captures, a.logger),
	}
	topic := a.cfg.PubSub.Topic
	if pub == nil && client != nil && topic != "" {
		gcp := pubsubpublisher.New(client)
		a.onClose(func(context.Context) error {
			gcp.Stop()
			return nil
		})
		pub = gcp
	}
	if pub == nil {
		return out, nil
	}
	if topic == "" {
		topic = defaultCaptureTopic
	}
	return append(out, sinks.NewPublisherSink(pub, topic, a.logger)), nil
}
