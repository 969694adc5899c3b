package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"texstream/internal/core/ports"
	"texstream/internal/core/services"
	"texstream/internal/infrastructure/capture"
	"texstream/internal/infrastructure/monitoring"
	"texstream/internal/infrastructure/sessions"
	"texstream/pkg/config"
	"texstream/pkg/logger"
	"texstream/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	source := flag.String("source", "", "PNG or JPEG file to stream; colour bars when empty")
	scaler := flag.String("scaler", string(capture.ScalerBilinear), "scaling for -source: nearest, bilinear or catmullrom")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address when set")
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
		ServiceName: "texstream-streamer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	streamCfg, err := cfg.StreamConfig()
	if err != nil {
		log.Fatalw("invalid stream configuration", "error", err)
	}

	surface, err := newSurface(*source, capture.Scaler(*scaler))
	if err != nil {
		log.Fatalw("failed to open capture source", "source", *source, "error", err)
	}

	registry := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(registry)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, log)
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

	sender := services.NewStreamSender(streamCfg, surface, session, log,
		services.WithSenderMetrics(collector),
		services.WithEventCode(cfg.EventCode()),
		services.WithCompressionLevel(cfg.Stream.CompressionLevel),
	)
	if err := sender.Start(ctx); err != nil {
		log.Errorw("stream sender did not start", "participant_id", session.ID(), "error", err)
		return
	}

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case <-sender.Done():
		if err := sender.Err(); err != nil {
			log.Errorw("stream sender stopped", "error", err)
		}
	}

	disposeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.Dispose(disposeCtx); err != nil {
		log.Errorw("failed to dispose stream sender", "error", err)
	}
	log.Infow("texstream streamer stopped", "frames_sent", sender.FramesSent())
}

func newSurface(path string, scaler capture.Scaler) (ports.CaptureSurface, error) {
	if path == "" {
		return capture.NewBarsSurface(), nil
	}
	return capture.LoadImageSurface(path, scaler)
}

func serveMetrics(addr string, registry *prometheus.Registry, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Infow("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("metrics server failed", "error", err)
	}
}
