// Package app builds the application's dependency graph and runs it either as
// a one-shot batch or as the HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/nsn-sourcing/internal/api"
	"github.com/JakeFAU/nsn-sourcing/internal/clock/system"
	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/alberta"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/canadabuys"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/samgov"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/wbparts"
	"github.com/JakeFAU/nsn-sourcing/internal/dispatcher"
	"github.com/JakeFAU/nsn-sourcing/internal/enricher/firecrawl"
	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
	collyfetcher "github.com/JakeFAU/nsn-sourcing/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/nsn-sourcing/internal/fetcher/headless"
	"github.com/JakeFAU/nsn-sourcing/internal/headless/detector"
	"github.com/JakeFAU/nsn-sourcing/internal/id/uuid"
	"github.com/JakeFAU/nsn-sourcing/internal/llm/openrouter"
	"github.com/JakeFAU/nsn-sourcing/internal/logging"
	"github.com/JakeFAU/nsn-sourcing/internal/policy/ratelimit"
	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	progresssinks "github.com/JakeFAU/nsn-sourcing/internal/progress/sinks"
	"github.com/JakeFAU/nsn-sourcing/internal/publisher"
	gcppublisher "github.com/JakeFAU/nsn-sourcing/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/nsn-sourcing/internal/queue/memory"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
	resultstorage "github.com/JakeFAU/nsn-sourcing/internal/storage"
	gcsstorage "github.com/JakeFAU/nsn-sourcing/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nsn-sourcing/internal/storage/local"
	memoryStorage "github.com/JakeFAU/nsn-sourcing/internal/storage/memory"
	pgstore "github.com/JakeFAU/nsn-sourcing/internal/storage/postgres"
	"github.com/JakeFAU/nsn-sourcing/internal/store"
	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
	"github.com/JakeFAU/nsn-sourcing/internal/worker"
)

var errDIBBSDisabled = errors.New("dibbs source is disabled")

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	googleOpts []option.ClientOption
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithGoogleClientOptions passes opts to the GCS and Pub/Sub clients, e.g. to
// target an emulator.
func WithGoogleClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.googleOpts = append(o.googleOpts, opts...) }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	opts   options
	logger *zap.Logger
	clock  system.Clock

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	batches   *dispatcher.Service
	queue     *queueMemory.Queue

	progressHub *progress.Hub
	progress    sourcing.ProgressStore
	sink        *resultstorage.Tee
	results     *memoryStorage.ResultSink
	runs        store.RunRepository

	pool      *pgxpool.Pool
	storage   *storage.Client
	bucket    *gcsstorage.Bucket
	publisher *gcppublisher.Publisher
	browser   *headlessfetcher.Fetcher
	tracer    *sdktrace.TracerProvider

	dibbs *dibbs.Connector
	llm   *openrouter.Client
}

// Build creates the application's dependencies. Resources acquired before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, clock: system.New()}
	for _, opt := range opts {
		opt(&app.opts)
	}

	logger := app.opts.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development(), cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app.logger = logger

	if err := app.build(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTelemetry(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp

	a.logger.Info("building application dependencies",
		zap.String("progress_backend", a.cfg.Progress.Backend),
		zap.Strings("output_backends", a.cfg.Output.Backends),
	)

	if err := a.setupProgressStore(ctx); err != nil {
		return err
	}
	if err := a.setupSinks(ctx); err != nil {
		return err
	}
	if err := a.setupRunStore(ctx); err != nil {
		return err
	}
	if err := a.setupProgressHub(ctx); err != nil {
		return err
	}

	proc, err := a.setupWorker()
	if err != nil {
		return err
	}

	a.dispatch, err = dispatcher.New(dispatcher.Deps{
		Processor: proc,
		Progress:  a.progress,
		Sink:      a.sink,
		IDs:       uuid.New(),
		Clock:     a.clock,
		Sleep:     a.clock.Sleep,
		Events:    a.progressHub,
		Logger:    a.logger.Named("dispatcher"),
	}, dispatcher.Config{
		Workers:                a.cfg.Pipeline.Workers(),
		BatchDelay:             a.cfg.Pipeline.BatchDelay,
		MaxPersistenceFailures: a.cfg.Pipeline.MaxPersistenceFailures,
	})
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(a.cfg.Server.QueueDepth)
	a.batches = dispatcher.NewService(a.queue, a.dispatch, uuid.New(), a.clock, a.logger.Named("batches"))

	var ready []api.ReadyCheck
	if a.pool != nil {
		ready = append(ready, func(ctx context.Context) error { return a.pool.Ping(ctx) })
	}
	deps := api.Deps{
		Batches: a.batches,
		Results: a.results,
		Runs:    a.runs,
		Ready:   ready,
		Logger:  a.logger.Named("api"),
	}
	if a.dibbs != nil {
		deps.Dates = a.dibbs
	}
	if a.llm != nil {
		deps.Assistant = a.llm
	}
	a.apiServer = api.NewServer(deps, a.cfg)
	return nil
}

func (a *App) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(min(a.cfg.DB.MaxConns, 1<<16)), // #nosec G115 -- clamped above.
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("postgres schema init failed: %w", err)
	}
	a.logger.Info("postgres connected", zap.Int("max_conns", a.cfg.DB.MaxConns))
	return pool, nil
}

func (a *App) gcsBucket(ctx context.Context) (*gcsstorage.Bucket, error) {
	if a.bucket != nil {
		return a.bucket, nil
	}
	client, err := storage.NewClient(ctx, a.opts.googleOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	a.bucket, err = gcsstorage.NewBucket(client, gcsstorage.Config{Bucket: a.cfg.GCS.Bucket, Prefix: a.cfg.GCS.Prefix})
	if err != nil {
		return nil, fmt.Errorf("gcs bucket init failed: %w", err)
	}
	a.logger.Debug("GCS bucket", zap.String("bucket", a.cfg.GCS.Bucket), zap.String("prefix", a.cfg.GCS.Prefix))
	return a.bucket, nil
}

func (a *App) setupProgressStore(ctx context.Context) error {
	runKey := a.cfg.Progress.RunKey
	var err error
	switch a.cfg.Progress.Backend {
	case config.BackendMemory:
		a.progress = memoryStorage.NewProgressStore()
	case config.BackendGCS:
		bucket, bucketErr := a.gcsBucket(ctx)
		if bucketErr != nil {
			return bucketErr
		}
		a.progress, err = gcsstorage.NewProgressStore(bucket, a.cfg.GCS.Prefix, runKey)
	case config.BackendPostgres:
		pool, poolErr := a.postgres(ctx)
		if poolErr != nil {
			return poolErr
		}
		a.progress, err = pgstore.NewProgressStore(pool, runKey)
	default:
		path := a.cfg.Progress.Path
		dir, dirErr := localstorage.New(localstorage.Config{BaseDir: filepath.Dir(path)})
		if dirErr != nil {
			return fmt.Errorf("progress directory init failed: %w", dirErr)
		}
		a.progress, err = localstorage.NewProgressStore(dir, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.logger.Info("progress store initialized", zap.String("backend", a.cfg.Progress.Backend))
	return nil
}

//nolint:gocognit // one case per backend
func (a *App) setupSinks(ctx context.Context) error {
	// The in-memory sink always backs GET /v1/nsn/{nsn}.
	a.results = memoryStorage.NewResultSink()
	sinks := []sourcing.ResultSink{a.results}
	runKey := a.cfg.Progress.RunKey

	var dir *localstorage.Dir
	localDir := func() (*localstorage.Dir, error) {
		if dir != nil {
			return dir, nil
		}
		var err error
		dir, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("output directory init failed: %w", err)
		}
		return dir, nil
	}

	for _, backend := range a.cfg.Output.Backends {
		var (
			sink sourcing.ResultSink
			err  error
		)
		switch backend {
		case config.SinkCSV:
			d, dirErr := localDir()
			if dirErr != nil {
				return dirErr
			}
			sink, err = localstorage.NewCSVSink(d, a.cfg.Output.Name)
		case config.SinkJSONL:
			d, dirErr := localDir()
			if dirErr != nil {
				return dirErr
			}
			sink, err = localstorage.NewJSONLSink(d, a.cfg.Output.Name)
		case config.SinkGCS:
			bucket, bucketErr := a.gcsBucket(ctx)
			if bucketErr != nil {
				return bucketErr
			}
			sink, err = gcsstorage.NewResultSink(bucket, a.cfg.GCS.Prefix, runKey)
		case config.SinkPostgres:
			pool, poolErr := a.postgres(ctx)
			if poolErr != nil {
				return poolErr
			}
			sink, err = pgstore.NewResultSink(pool, runKey)
		case config.SinkPubSub:
			if a.publisher == nil {
				a.publisher, err = gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.opts.googleOpts...)
				if err != nil {
					return fmt.Errorf("pubsub client init failed: %w", err)
				}
			}
			sink, err = publisher.NewResultSink(a.publisher, a.cfg.PubSub.TopicName, runKey)
			a.logger.Info("Pub/Sub result sink initialized",
				zap.String("project", a.cfg.PubSub.ProjectID),
				zap.String("topic", a.cfg.PubSub.TopicName),
			)
		case config.SinkMemory:
			continue
		default:
			return fmt.Errorf("output backend %q is not supported", backend)
		}
		if err != nil {
			return fmt.Errorf("%s result sink init failed: %w", backend, err)
		}
		sinks = append(sinks, sink)
	}
	a.sink = resultstorage.NewTee(sinks...)
	a.logger.Info("result sinks initialized", zap.Int("count", a.sink.Len()))
	return nil
}

func (a *App) setupRunStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, keeping run history in memory")
		a.runs = memoryStorage.NewRunStore()
		return nil
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	a.runs, err = pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	return nil
}

func (a *App) setupProgressHub(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.opts.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	)
	a.logger.Info("progress hub initialized")
	return nil
}

func (a *App) setupWorker() (*worker.Worker, error) {
	conns, err := a.setupConnectors()
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Connectors: conns,
		Retry: sourcing.NewExponentialRetryPolicy(sourcing.RetryConfig{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
			MaxDelay:    a.cfg.Retry.MaxDelay,
		}),
		Sleep:  a.clock.Sleep,
		Clock:  a.clock,
		Events: a.progressHub,
		Logger: a.logger.Named("worker"),
	}

	if a.cfg.EnrichmentEnabled() {
		deps.Enricher, err = firecrawl.New(firecrawl.Config{
			APIKey:  a.cfg.Firecrawl.APIKey,
			BaseURL: a.cfg.Firecrawl.BaseURL,
			Timeout: a.cfg.Firecrawl.Timeout,
			Logger:  a.logger.Named("firecrawl"),
		})
		if err != nil {
			return nil, fmt.Errorf("enricher init failed: %w", err)
		}
		deps.Limiter, err = ratelimit.NewBudget(ratelimit.BudgetConfig{
			Name:     "firecrawl",
			Budget:   a.cfg.RateLimit.EnrichBudget,
			Window:   a.cfg.RateLimit.EnrichWindow,
			Interval: a.cfg.RateLimit.EnrichInterval,
			Now:      a.clock.Now,
			Sleep:    a.clock.Sleep,
		})
		if err != nil {
			return nil, fmt.Errorf("enrich limiter init failed: %w", err)
		}
		a.logger.Info("contact enrichment enabled",
			zap.Int("budget", a.cfg.RateLimit.EnrichBudget),
			zap.Duration("window", a.cfg.RateLimit.EnrichWindow),
		)
	} else {
		a.logger.Warn("contact enrichment disabled")
	}

	if a.cfg.OpenRouter.APIKey != "" {
		a.llm, err = openrouter.NewClient(openrouter.Config{
			APIKey:  a.cfg.OpenRouter.APIKey,
			BaseURL: a.cfg.OpenRouter.BaseURL,
			Model:   a.cfg.OpenRouter.Model,
			Timeout: a.cfg.OpenRouter.Timeout,
			Logger:  a.logger.Named("openrouter"),
		})
		if err != nil {
			return nil, fmt.Errorf("openrouter init failed: %w", err)
		}
	}
	if a.cfg.DraftingEnabled() {
		deps.Drafter = a.llm
		a.logger.Info("email drafting enabled", zap.String("model", a.cfg.OpenRouter.Model))
	}

	w, err := worker.New(deps, worker.Config{
		ScrapeConcurrency: a.cfg.Pipeline.ScrapeConcurrency,
		MaxSuppliers:      a.cfg.Pipeline.MaxSuppliers,
		CallTimeout:       a.cfg.Pipeline.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	return w, nil
}

func (a *App) setupConnectors() ([]sourcing.SourceConnector, error) {
	src := a.cfg.Sources
	now := a.clock.Now
	pacer := ratelimit.NewHostLimiter(ratelimit.HostConfig{
		RPS:   a.cfg.RateLimit.ScrapeRPS,
		Burst: a.cfg.RateLimit.ScrapeBurst,
	})
	rest := connectors.NewRESTClient(a.cfg.Scrape.UserAgent, a.cfg.Scrape.Timeout)
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Scrape.UserAgent,
		Timeout:   a.cfg.Scrape.Timeout,
	})

	var conns []sourcing.SourceConnector
	if src.DIBBS.Enabled {
		var browser fetcher.Fetcher = headlessfetcher.NewNoop()
		if a.cfg.Headless.Enabled {
			f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       a.cfg.Headless.MaxParallel,
				UserAgent:         a.cfg.Scrape.UserAgent,
				NavigationTimeout: a.cfg.Headless.NavTimeout,
			})
			if err != nil {
				a.logger.Warn("headless fetcher init failed", zap.Error(err))
			} else {
				a.browser = f
				browser = f
				a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
			}
		}
		c, err := dibbs.New(dibbs.Config{BaseURL: src.DIBBS.BaseURL}, dibbs.Options{
			HTTP:     plain,
			Browser:  browser,
			Promoter: detector.NewHeuristic(0, detector.DoDConsentMarkers...),
			Pacer:    pacer,
			Now:      now,
			Logger:   a.logger.Named("dibbs"),
		})
		if err != nil {
			return nil, fmt.Errorf("dibbs connector init failed: %w", err)
		}
		a.dibbs = c
		conns = append(conns, c)
	}
	if src.WBParts.Enabled {
		c, err := wbparts.New(wbparts.Config{BaseURL: src.WBParts.BaseURL}, plain, pacer, now)
		if err != nil {
			return nil, fmt.Errorf("wbparts connector init failed: %w", err)
		}
		conns = append(conns, c)
	}
	if src.SAMGov.Enabled {
		if src.SAMGov.APIKey == "" {
			a.logger.Warn("No SAM.gov API key configured, skipping source")
		} else {
			c, err := samgov.New(samgov.Config{
				BaseURL:  src.SAMGov.BaseURL,
				APIKey:   src.SAMGov.APIKey,
				PageSize: src.SAMGov.PageSize,
				DaysBack: src.SAMGov.DaysBack,
			}, rest, pacer, now)
			if err != nil {
				return nil, fmt.Errorf("samgov connector init failed: %w", err)
			}
			conns = append(conns, c)
		}
	}
	if src.CanadaBuys.Enabled {
		conns = append(conns, canadabuys.New(canadabuys.Config{
			BaseURL:  src.CanadaBuys.BaseURL,
			DaysBack: src.CanadaBuys.DaysBack,
		}, rest, pacer, now))
	}
	if src.Alberta.Enabled {
		conns = append(conns, alberta.New(alberta.Config{
			BaseURL:  src.Alberta.BaseURL,
			PageSize: src.Alberta.PageSize,
			DaysBack: src.Alberta.DaysBack,
			Contacts: true,
		}, rest, pacer, now, a.logger.Named("alberta")))
	}

	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, string(c.Name()))
	}
	a.logger.Info("source connectors initialized", zap.Strings("sources", names))
	if len(conns) == 0 {
		return nil, errors.New("no source connectors enabled")
	}
	return conns, nil
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Results exposes the latest result per item from the in-memory sink.
func (a *App) Results() *memoryStorage.ResultSink {
	return a.results
}

// RunBatch processes inputs once and returns the run summary.
func (a *App) RunBatch(ctx context.Context, inputs []string, resume bool) (sourcing.BatchRunSummary, error) {
	return a.dispatch.Run(ctx, inputs, resume)
}

// DIBBSDates lists the RFQ issue dates DIBBS publishes.
func (a *App) DIBBSDates(ctx context.Context) ([]string, error) {
	if a.dibbs == nil {
		return nil, errDIBBSDisabled
	}
	return a.dibbs.AvailableDates(ctx)
}

// DIBBSListings collects the open solicitations DIBBS issued on date.
func (a *App) DIBBSListings(ctx context.Context, date string, maxPages int) (dibbs.DateListings, error) {
	if a.dibbs == nil {
		return dibbs.DateListings{}, errDIBBSDisabled
	}
	return a.dibbs.NSNsByDate(ctx, date, maxPages)
}

// Serve runs the batch service and HTTP server until ctx is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("batch service started", zap.Int("queue_depth", a.cfg.Server.QueueDepth))
		return a.batches.Serve(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		a.queue.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close gracefully shuts down the application. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // linear teardown
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.ForceFlush(ctx); err != nil {
			a.logger.Warn("tracer flush failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
