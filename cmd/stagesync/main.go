package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	sshttp "github.com/calebhart/stagesync/internal/adapter/http"
	ssnats "github.com/calebhart/stagesync/internal/adapter/nats"
	"github.com/calebhart/stagesync/internal/adapter/otel"
	"github.com/calebhart/stagesync/internal/adapter/postgres"
	"github.com/calebhart/stagesync/internal/adapter/ristretto"
	"github.com/calebhart/stagesync/internal/adapter/scaffold"
	"github.com/calebhart/stagesync/internal/adapter/webassist"
	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/config"
	"github.com/calebhart/stagesync/internal/logger"
	"github.com/calebhart/stagesync/internal/middleware"
	"github.com/calebhart/stagesync/internal/resilience"
	"github.com/calebhart/stagesync/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	cfg, configPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", configPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"watch_interval", cfg.Watch.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Maintenance() {
		return runMaintenance(ctx, cfg, flags)
	}

	holder := config.NewHolder(cfg, configPath)

	// --- Observability ---

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := ssnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	slog.Info("nats connected")

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// --- Remote backend client ---

	remoteClient := webassist.NewClient(cfg.Remote)
	remoteClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	remoteClient.SetCache(cache, cfg.Cache.TTL)

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	bootstrapper := scaffold.New(cfg.Scaffold)

	approvals := service.NewApprovalSync(store, remoteClient, log)
	approvals.SetBroadcaster(hub)

	executor := service.NewStageExecutor(store, remoteClient, approvals, log)
	executor.SetBroadcaster(hub)
	executor.SetMetrics(metrics)

	projects := service.NewProjectManager(store, remoteClient, bootstrapper, executor, approvals, log)
	projects.SetBroadcaster(hub)
	projects.SetMetrics(metrics)

	taskSync := service.NewTaskSync(store, remoteClient, log)
	taskSync.SetMetrics(metrics)
	taskSync.SetQueue(queue)

	webhooks := service.NewWebhookIngestor(projects, cfg.Webhook.Secret, log)
	webhooks.SetMetrics(metrics)

	listener := service.NewExecutionListener(queue, store, taskSync, executor, log)
	cancelListener, err := listener.Start(ctx)
	if err != nil {
		return fmt.Errorf("execution listener: %w", err)
	}
	defer cancelListener()

	// Startup reconciliation scan. Divergence is only reported.
	if candidates, err := approvals.ResolveConflicts(ctx); err != nil {
		slog.Warn("approval reconciliation scan failed", "error", err)
	} else if len(candidates) > 0 {
		slog.Warn("approvals possibly out of sync with remote", "count", len(candidates))
	}

	watcher := service.NewStatusWatcher(store, hub, cfg.Watch.Interval, log)

	// --- HTTP ---

	handlers := &sshttp.Handlers{
		Projects:      projects,
		Webhooks:      webhooks,
		Hub:           hub,
		WebhookHeader: cfg.Webhook.Header,
	}

	r := chi.NewRouter()
	r.Use(sshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(sshttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	sshttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := watcher.WatchAll(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// SIGHUP re-reads the config file. Only the log level is applied
	// live; everything else takes effect on the next restart.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := holder.Reload(); err != nil {
					slog.Warn("config reload failed, keeping previous config", "error", err)
					continue
				}
				logger.SetLevel(holder.Get().Logging.Level)
				slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runMaintenance executes one-shot migration commands against the configured
// database and returns without starting the server.
func runMaintenance(ctx context.Context, cfg *config.Config, flags config.CLIFlags) error {
	if flags.MigrateDown != nil {
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *flags.MigrateDown); err != nil {
			return fmt.Errorf("rollback migrations: %w", err)
		}
		slog.Info("migrations rolled back", "steps", *flags.MigrateDown)
	}

	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	slog.Info("migration status", "version", version)
	return nil
}
