package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/insight-gateway/internal/config"
	insightfrontdoor "github.com/tjfontaine/insight-gateway/internal/frontdoor/insight"
	"github.com/tjfontaine/insight-gateway/internal/insight"
	"github.com/tjfontaine/insight-gateway/internal/pipeline"
	"github.com/tjfontaine/insight-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/insight-gateway/internal/poller"
	"github.com/tjfontaine/insight-gateway/internal/server"
	"github.com/tjfontaine/insight-gateway/internal/storage/journal"
	"github.com/tjfontaine/insight-gateway/internal/telemetry"
	"github.com/tjfontaine/insight-gateway/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Only the log level is applied on config reload; everything else
	// needs a restart.
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(config.DefaultPath); err == nil {
		err := config.Watch(ctx, config.DefaultPath, logger, func(next *config.Config) {
			level.Set(parseLevel(next.Log.Level))
			logger.Info("log level updated", slog.String("level", level.Level().String()))
		})
		if err != nil {
			logger.Warn("config watch disabled", slog.String("error", err.Error()))
		}
	}

	runJournal, err := journal.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open run journal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if runJournal != nil {
		defer runJournal.Close()
	}

	httpClient := safehttp.NewClient(safehttp.Options{
		Timeout:             cfg.Pipeline.RequestTimeout,
		RateLimit:           cfg.Pipeline.RateLimit,
		RateBurst:           cfg.Pipeline.RateBurst,
		DenyPrivateNetworks: cfg.Pipeline.DenyPrivateNetworks,
	})

	client := pipeline.NewClient(cfg.Pipeline,
		pipeline.WithHTTPClient(httpClient),
		pipeline.WithLogger(logger),
	)
	waiter := poller.New(client, poller.ConfigFrom(cfg.Polling), poller.WithLogger(logger))

	svc := insight.NewService(client, waiter, cfg.Pipeline,
		insight.WithJournal(runJournal),
		insight.WithLogger(logger),
	)

	handler := insightfrontdoor.NewHandler(svc, tokens.NewTiktokenCounter(tokens.DefaultEncoding), logger)

	srv := server.New(cfg.Server, logger)
	handler.Routes(srv.Router)

	logger.Info("insight gateway configured",
		slog.String("platform", cfg.Pipeline.BaseURL),
		slog.String("start_mode", cfg.Pipeline.StartMode),
		slog.String("status_mode", cfg.Pipeline.StatusMode),
		slog.String("storage", cfg.Storage.Type),
		slog.Duration("max_wait", waiter.Config().MaxWait),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	case <-sigChan:
	}

	logger.Info("Shutdown signal received, stopping gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("Gateway shutdown complete")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
