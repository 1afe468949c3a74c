package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evrydayimruslin/ultralight/internal/config"
	"github.com/evrydayimruslin/ultralight/internal/gateway"
	"github.com/evrydayimruslin/ultralight/internal/gateway/httpapi"
	"github.com/evrydayimruslin/ultralight/internal/observability"
	"github.com/evrydayimruslin/ultralight/internal/platform"
	"github.com/evrydayimruslin/ultralight/internal/ratelimit"
	"github.com/evrydayimruslin/ultralight/internal/runtime"
	"github.com/evrydayimruslin/ultralight/internal/scheduler"
	"github.com/evrydayimruslin/ultralight/internal/services"
	"github.com/evrydayimruslin/ultralight/internal/storage"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the schedule runner",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `ultralight --config path` and `ultralight serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Ultralight in serve mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	configPath := serveConfigPath
	if env := os.Getenv("ULTRALIGHT_CONFIG"); env != "" {
		configPath = env
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger.Info("starting in serve mode", slog.String("config", configPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (all components optional).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Storage.
	store, err := storage.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Injected services.
	var aiService services.AIService
	if cfg.AI != nil {
		aiService = services.NewHTTPAIClient(cfg.AI, logger)
	}
	var ledgerService services.LedgerService
	if cfg.Ledger != nil {
		ledgerService = services.NewHTTPLedgerClient(cfg.Ledger, logger)
	}
	var auditRecorder services.AuditRecorder
	if path := cfg.AuditLogPath(); path != "" {
		recorder, err := services.NewFileAuditRecorder(path, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()
		auditRecorder = recorder
	}

	// Execution runtime.
	runnerOpts := []runtime.Option{runtime.WithLogger(logger)}
	if obs != nil && obs.Metrics != nil {
		runnerOpts = append(runnerOpts, runtime.WithMetrics(obs.Metrics))
	}
	runner := runtime.NewRunner(runnerOpts...)

	svc := platform.New(platform.Deps{
		Runner:    runner,
		Functions: store.Functions(),
		Store:     store,
		Memory:    services.NewInMemoryMemory(),
		AI:        aiService,
		Ledger:    ledgerService,
		Audit:     auditRecorder,
		Obs:       obs,
		Logger:    logger,
		Config:    cfg,
	})

	// Schedule runner (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var schedMetrics *scheduler.Metrics
		if obs != nil && obs.Metrics != nil {
			schedMetrics = scheduler.NewMetrics(obs.Metrics.Registry)
		}

		sched := scheduler.New(
			store.Schedules(),
			storage.ScheduleFactory(),
			store.DB(),
			platform.NewScheduleInvoker(svc),
			schedMetrics,
			logger,
			cfg.Scheduler,
		)
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()
	}

	// Rate limiter (unlimited when not configured).
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	// HTTP gateway.
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeyUserMapping,
		InternalToken:  cfg.Server.InternalToken,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if obs != nil {
		gwCfg.HealthChecker = obs.Health
		gwCfg.Metrics = obs.Metrics
		if obs.Metrics != nil {
			gwCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			gwCfg.Tracer = obs.Tracer.Tracer()
		}
	}

	var gw gateway.Gateway = httpapi.NewGateway(gwCfg, svc, store.Functions(), limiter, logger).
		WithSchedules(store.Schedules())

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}
