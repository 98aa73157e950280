// Package app assembles reqgrid from its configuration and manages the
// serving lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	grpcapi "github.com/reqgrid/reqgrid/internal/api/grpc"
	httpapi "github.com/reqgrid/reqgrid/internal/api/http"
	"github.com/reqgrid/reqgrid/internal/cache"
	"github.com/reqgrid/reqgrid/internal/config"
	reqerrors "github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/export"
	"github.com/reqgrid/reqgrid/internal/notify"
	"github.com/reqgrid/reqgrid/internal/observability"
	"github.com/reqgrid/reqgrid/internal/query/executor"
	"github.com/reqgrid/reqgrid/internal/query/parser"
	"github.com/reqgrid/reqgrid/internal/server"
	"github.com/reqgrid/reqgrid/internal/source"
	"github.com/reqgrid/reqgrid/internal/storage"
)

// App wires the source, dataset cache, executor and servers together.
type App struct {
	cfg *config.Config

	storage   storage.ObjectStorage
	source    source.Source
	dataset   *cache.DatasetCache
	executor  *executor.Executor
	parser    *parser.Parser
	stats     *observability.FilterStats
	metrics   *observability.Metrics
	exporter  *export.Exporter
	downloads *storage.DownloadCache
	events    *notify.Notifier
	shutdown  *server.ShutdownManager

	httpAddr net.Addr
	grpcAddr net.Addr

	mu      sync.Mutex
	running bool
	group   *errgroup.Group
	gctx    context.Context
}

// New validates cfg and builds every component. Nothing is loaded or served
// until Load or Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, reqerrors.Wrap(reqerrors.ErrCategoryValidation, reqerrors.CodeInvalidConfig, "invalid configuration", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:      cfg,
		metrics:  observability.NewMetrics(),
		stats:    observability.NewFilterStats(cfg.Stats.Window),
		parser:   parser.NewParser(nil, cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		events:   notify.NewNotifier(16),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{ShutdownTimeout: cfg.ShutdownTimeout}),
	}

	var err error
	if a.storage, err = newStorage(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.source, err = a.newSource(); err != nil {
		return nil, fmt.Errorf("failed to initialize source: %w", err)
	}

	a.dataset = cache.NewDatasetCache(a.source, func(snap *cache.Snapshot, elapsed time.Duration, err error) {
		ev := notify.Event{Type: notify.LoadFailed, Source: a.source.Name(), Err: err}
		if snap != nil {
			ev = notify.Event{Type: notify.SnapshotLoaded, Source: snap.Source, Version: snap.Version, Rows: len(snap.Rows)}
		}
		a.metrics.ObserveDatasetLoad(ev.Rows, err)
		a.events.Publish(ev)
	})
	a.executor = executor.NewExecutor(a.dataset, executor.ExecutorConfig{
		JoinedFacets: cfg.Query.JoinedFacets,
		Stats:        a.stats,
		Metrics:      a.metrics,
	})
	if cfg.Export.Enabled {
		a.exporter = export.NewExporter(a.storage, cfg.Export.Prefix, cfg.DataDir)
	}
	return a, nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(cfg.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func (a *App) newSource() (source.Source, error) {
	switch a.cfg.Source.Type {
	case config.SourceFile:
		return source.NewFileSource(a.cfg.Source.Path), nil
	case config.SourceSQLite:
		return source.NewSQLiteSource(a.cfg.Source.Path, a.cfg.Source.Table)
	case config.SourceObjects:
		a.downloads = storage.NewDownloadCache(a.cfg.Storage.CacheMaxBytes)
		downloader := storage.NewBatchDownloader(a.storage, a.cfg.Storage.Concurrency, a.cfg.Storage.CacheDir, a.downloads)
		return source.NewObjectSource(a.storage, a.cfg.Source.Prefix, downloader, a.cfg.Storage.Concurrency), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", a.cfg.Source.Type)
	}
}

// Load performs the first dataset load.
func (a *App) Load(ctx context.Context) error {
	return a.dataset.Initialize(ctx)
}

// Executor returns the query executor.
func (a *App) Executor() *executor.Executor { return a.executor }

// Parser returns the query parameter parser.
func (a *App) Parser() *parser.Parser { return a.parser }

// Exporter returns the result exporter, or nil when export is disabled.
func (a *App) Exporter() *export.Exporter { return a.exporter }

// Dataset returns the dataset cache.
func (a *App) Dataset() *cache.DatasetCache { return a.dataset }

// Events returns the dataset event bus.
func (a *App) Events() *notify.Notifier { return a.events }

// HTTPAddr returns the bound HTTP address once started.
func (a *App) HTTPAddr() net.Addr { return a.httpAddr }

// Handler builds the HTTP API handler.
func (a *App) Handler() http.Handler {
	cfg := httpapi.HandlersConfig{
		Executor: a.executor,
		Parser:   a.parser,
		Stats:    a.stats,
		Dataset:  a.dataset,
	}
	if raw, ok := a.source.(source.RawOpener); ok {
		cfg.Raw = raw
	}
	if a.exporter != nil {
		cfg.Exporter = a.exporter
	}
	return httpapi.NewRouter(httpapi.NewHandlers(cfg), a.metrics, server.ShutdownMiddleware(a.shutdown))
}

// Start sets up tracing, performs the first load, starts the reload loops
// and begins serving. A failed first load is logged and served as 503 until
// a later reload succeeds.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Exporter:    a.cfg.Telemetry.Exporter,
		Endpoint:    a.cfg.Telemetry.Endpoint,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown.Register("tracing", shutdownTracing)

	bgCtx, cancel := context.WithCancel(ctx)
	if a.downloads != nil {
		a.shutdown.Register("download cache", func(context.Context) error {
			a.downloads.Clear()
			return nil
		})
	}
	a.shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})
	a.group, a.gctx = errgroup.WithContext(bgCtx)

	if err := a.Load(ctx); err != nil {
		log.Printf("Initial load from %s failed: %v", a.source.Name(), err)
	}
	if err := a.startReloading(); err != nil {
		cancel()
		return err
	}
	a.group.Go(func() error {
		a.stats.RunPruner(a.gctx, a.cfg.Stats.PruneInterval)
		return nil
	})
	if a.exporter != nil && a.cfg.Export.Retention > 0 {
		a.group.Go(func() error {
			a.exporter.RunPruner(a.gctx, a.cfg.Export.Retention, a.cfg.Export.SweepInterval)
			return nil
		})
	}

	if err := a.startHTTP(); err != nil {
		cancel()
		return err
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			cancel()
			return err
		}
	}

	a.running = true
	log.Printf("reqgrid started (source=%s, http=%s)", a.source.Name(), a.httpAddr)
	return nil
}

func (a *App) startReloading() error {
	if a.cfg.Source.Type == config.SourceFile && a.cfg.Source.Watch {
		w, err := cache.NewWatcher(a.dataset, a.cfg.Source.Debounce)
		if err != nil {
			return err
		}
		if err := w.Watch(a.cfg.Source.Path); err != nil {
			return err
		}
		a.group.Go(func() error {
			if err := w.Run(a.gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("file watcher: %w", err)
			}
			return nil
		})
		log.Printf("Watching %s for changes", a.cfg.Source.Path)
		return nil
	}

	if interval := a.cfg.Source.ReloadInterval; interval > 0 {
		a.group.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-a.gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := a.dataset.Reload(a.gctx); err != nil {
						log.Printf("Periodic reload failed: %v", err)
					}
				}
			}
		})
	}
	return nil
}

func (a *App) startHTTP() error {
	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpAddr = lis.Addr()

	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.group.Go(func() error { return a.shutdown.ServeHTTP(srv, lis) })
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcAddr = lis.Addr()

	srv := grpcapi.NewServer()
	health := grpcapi.NewHealthServer(a.dataset.Ready)
	health.Register(srv)

	sub := a.events.Subscribe()
	a.group.Go(func() error {
		defer a.events.Unsubscribe(sub.ID)
		health.Run(a.gctx, sub.Ch)
		return nil
	})
	a.group.Go(func() error { return a.shutdown.ServeGRPC(srv, lis) })
	log.Printf("gRPC health service listening on %s", a.grpcAddr)
	return nil
}

// Wait blocks until a signal arrives, ctx is cancelled or a server fails,
// then shuts everything down.
func (a *App) Wait(ctx context.Context) error {
	waitErr := make(chan error, 1)
	go func() { waitErr <- a.shutdown.Wait(ctx) }()

	var shutErr error
	select {
	case shutErr = <-waitErr:
	case <-a.gctx.Done():
		shutErr = a.shutdown.Shutdown(context.Background(), "server stopped")
	}
	return errors.Join(a.group.Wait(), shutErr)
}

// Stop shuts the app down.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "stop requested")
}

// Run starts the app and waits for shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Wait(ctx)
}
