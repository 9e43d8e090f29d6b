package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"farmnet/observability/logging"
	telemetry "farmnet/observability/otel"
	"farmnet/services/harvestd/api"
	"farmnet/services/harvestd/config"
	"farmnet/services/harvestd/ingest"
	"farmnet/services/harvestd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/harvestd/config.yaml", "path to harvestd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FARMNET_ENV"))
	logger := logging.Setup("harvestd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if otlpEndpoint != "" {
		insecure := true
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "harvestd",
			Environment: env,
			Endpoint:    otlpEndpoint,
			Insecure:    insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("init telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	jwtSecret, err := cfg.Auth.Secret()
	if err != nil {
		logger.Error("resolve jwt secret", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("open storage", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingester := ingest.New(cfg.NodeWS, store, logger)
	ingestErr := make(chan error, 1)
	go func() {
		ingestErr <- ingester.Run(ctx)
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.New(api.Config{Store: store, JWTSecret: jwtSecret, Issuer: cfg.Auth.Issuer, Audience: cfg.Auth.Audience}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("harvestd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-ingestErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event ingest failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
