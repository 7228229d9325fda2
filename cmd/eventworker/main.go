// Command eventworker is the event runtime orchestrator's entry point: it
// loads configuration, wires the durable store, runtime manager, session
// lifecycle, orchestrator, pollers, status updater and control-plane HTTP
// API together, then runs until an OS signal requests a graceful shutdown.
// Grounded on the teacher's cmd/glyphoxa/main.go composition shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weillium/eventrt/internal/config"
	"github.com/weillium/eventrt/internal/embeddings"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/httpapi"
	"github.com/weillium/eventrt/internal/lifecycle"
	"github.com/weillium/eventrt/internal/observe"
	"github.com/weillium/eventrt/internal/orchestrator"
	"github.com/weillium/eventrt/internal/poller"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/runtime"
	"github.com/weillium/eventrt/internal/statusupdater"
	"github.com/weillium/eventrt/internal/store/postgres"
	"github.com/weillium/eventrt/internal/toolsurface"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "eventworker: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "eventworker: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("eventworker starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "eventrt"})
	if err != nil {
		logger.Error("failed to init observability provider", "error", err)
		return 1
	}
	defer otelShutdown(context.Background())
	metrics := observe.DefaultMetrics()

	embeddingDimensions := 1536
	var embeddingProvider toolsurface.EmbeddingProvider
	if cfg.Models.Embeddings.Name != "" {
		p, err := embeddings.New(embeddings.Config{
			APIKey:  cfg.Models.Embeddings.APIKey,
			Model:   cfg.Models.Embeddings.Name,
			BaseURL: cfg.Models.Embeddings.BaseURL,
		})
		if err != nil {
			logger.Error("failed to construct embeddings provider", "error", err)
			return 1
		}
		embeddingProvider = p
		embeddingDimensions = p.Dimensions()
	}

	dsn := cfg.Store.PostgresDSN
	if cfg.Store.MaxConns > 0 {
		dsn = fmt.Sprintf("%s pool_max_conns=%d", dsn, cfg.Store.MaxConns)
	}
	pgStore, err := postgres.NewStore(ctx, dsn, embeddingDimensions)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return 1
	}
	defer pgStore.Close()

	var tools *toolsurface.Surface
	if embeddingProvider != nil {
		tools = toolsurface.New(toolsurface.IndexAdapter{Index: pgStore}, embeddingProvider)
	}

	manager := runtime.NewManager(pgStore, pgStore, pgStore, pgStore, pgStore)

	bus := pushbus.New()

	factory := newSessionFactory(cfg)
	lc := lifecycle.New(factory, pgStore, tools)

	orch := orchestrator.New(manager, lc, pgStore, pgStore, pgStore, pgStore, pgStore, pgStore, pgStore, bus)

	defaults := poller.DefaultIntervals()
	durations := cfg.Pollers.Durations(config.PollerDurations{
		Blueprint:    defaults.Blueprint,
		Context:      defaults.Context,
		Regeneration: defaults.Regeneration,
		PauseResume:  defaults.PauseResume,
		Startup:      defaults.Startup,
		StatusUpdate: 5 * time.Second,
	})

	updater := statusupdater.New(bus, pgStore, manager, durations.StatusUpdate)
	lc.OnStatusUpdated(func(r *runtime.EventRuntime, eventID, agentID string, agentType eventmodel.AgentType, status eventmodel.RuntimeStatus) {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := updater.UpdateAndPushStatus(sweepCtx, r); err != nil {
			logger.Error("status update push failed", "event_id", eventID, "error", err)
		}
	})

	if err := orch.Initialize(ctx); err != nil {
		logger.Error("failed to initialize orchestrator", "error", err)
		return 1
	}

	pollerGroup := poller.NewGroup(pgStore, pgStore, manager, orch, metrics, poller.Intervals{
		Blueprint:    durations.Blueprint,
		Context:      durations.Context,
		Regeneration: durations.Regeneration,
		PauseResume:  durations.PauseResume,
		Startup:      durations.Startup,
	})
	pollerGroup.Start(ctx)
	defer pollerGroup.Shutdown()

	go updater.Run(ctx)

	checkers := []httpapi.Checker{
		{Name: "postgres", Check: func(ctx context.Context) error { return pgStore.Ping(ctx) }},
	}
	apiHandler := httpapi.New(orch, manager, bus, logger, checkers...)
	mux := http.NewServeMux()
	apiHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("control plane server error", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("control plane shutdown error", "error", err)
	}
	orch.Shutdown(shutdownCtx)

	logger.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
