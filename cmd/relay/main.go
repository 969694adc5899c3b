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

	"texstream/internal/core/domain"
	httphandlers "texstream/internal/handlers/http"
	"texstream/internal/infrastructure/middleware"
	"texstream/internal/infrastructure/monitoring"
	"texstream/internal/infrastructure/relay"
	"texstream/pkg/config"
	"texstream/pkg/logger"
	"texstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	issueToken := flag.Bool("issue-token", false, "print a join token and exit")
	tokenRoom := flag.String("room", "", "room for -issue-token, empty for any room")
	tokenName := flag.String("name", "", "participant name for -issue-token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokens := relay.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if *issueToken {
		token, err := tokens.GenerateToken(domain.RoomID(*tokenRoom), *tokenName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "texstream-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	opts := []relay.Option{relay.WithMetrics(collector)}
	if cfg.Relay.RequireToken {
		opts = append(opts, relay.WithTokens(tokens))
	}
	relayServer := relay.NewServer(relay.Config{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		MaxMessageSize:    cfg.Relay.MaxMessageSizeBytes,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		Burst:             cfg.Relay.Burst,
		SendQueue:         cfg.Relay.SendQueue,
		MaxParticipants:   cfg.Relay.MaxParticipants,
		JoinsPerSecond:    cfg.RateLimiting.Joins.PerSecond,
		JoinBurst:         cfg.RateLimiting.Joins.Burst,
		AllowedOrigins:    cfg.Relay.AllowedOrigins,
	}, log, opts...)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)

	// The upgrade path has its own per-IP join limiter.
	router.GET("/ws", gin.WrapF(relayServer.HandleWebSocket))
	router.GET("/health", gin.WrapF(relayServer.HealthCheck))

	httphandlers.NewRelayHandler(relayServer, tokens, cfg.Auth.TokenTTL).SetupRoutes(router,
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.AuthMiddleware(tokens),
	)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Relay.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pruneJoinLimiters(ctx, relayServer)

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting texstream relay", "address", cfg.Relay.Address, "require_token", cfg.Relay.RequireToken)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("relay server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("relay connections did not drain", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("failed to flush traces", "error", err)
	}

	log.Info("texstream relay stopped")
}

func pruneJoinLimiters(ctx context.Context, s *relay.Server) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PruneJoinLimiters()
		}
	}
}
