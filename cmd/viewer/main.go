package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"texstream/internal/core/services"
	httphandlers "texstream/internal/handlers/http"
	"texstream/internal/infrastructure/display"
	"texstream/internal/infrastructure/middleware"
	"texstream/internal/infrastructure/monitoring"
	"texstream/internal/infrastructure/sessions"
	"texstream/pkg/config"
	"texstream/pkg/logger"
	"texstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "texstream-viewer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := sessions.NewFactory(cfg, nil, log)
	defer factory.Close()

	session, err := factory.Open(ctx, cfg.Client.ParticipantName)
	if err != nil {
		log.Fatalw("failed to join room", "room", cfg.Client.Room, "transport", cfg.Transport.Kind, "error", err)
	}
	defer session.Close()

	registry := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(registry)

	frames := display.NewLatestFrame(cfg.Viewer.SnapshotQuality)
	receiver := services.NewStreamReceiver(session, frames, log,
		services.WithReceiverMetrics(collector),
		services.WithReceiverEventCode(cfg.EventCode()),
		services.WithThroughputWindow(cfg.Viewer.ReportInterval),
		services.WithMaxPayload(cfg.Stream.MaxPayloadBytes),
		services.WithMaxFramePixels(cfg.Stream.MaxFramePixels),
	)
	if err := receiver.Activate(); err != nil {
		log.Errorw("stream receiver did not activate", "participant_id", session.ID(), "error", err)
		return
	}
	defer receiver.Close()

	go receiver.Run(ctx)

	health := monitoring.NewHealthChecker()
	health.AddSessionCheck(session, 10*time.Second, 2*time.Second)
	if client := factory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 10*time.Second, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)
	httphandlers.NewViewerHandler(frames, receiver, health).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	srv := &http.Server{
		Addr:              cfg.Viewer.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting texstream viewer", "address", cfg.Viewer.Address, "participant_id", session.ID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("viewer server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Viewer.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("failed to flush traces", "error", err)
	}

	log.Infow("texstream viewer stopped", "packets_per_second", receiver.PacketsPerSecond())
}
