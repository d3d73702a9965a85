package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/config"
	"github.com/wavecast/broker/internal/v1/health"
	"github.com/wavecast/broker/internal/v1/invite"
	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/middleware"
	"github.com/wavecast/broker/internal/v1/ratelimit"
	"github.com/wavecast/broker/internal/v1/room"
	"github.com/wavecast/broker/internal/v1/signaling"
	"github.com/wavecast/broker/internal/v1/tracing"
	"github.com/wavecast/broker/internal/v1/transport"
)

const serviceName = "wavecast-broker"

func main() {
	ctx := context.Background()

	// Load .env for local development; production relies on real env vars.
	if err := godotenv.Load(); err == nil {
		logging.GetLogger().Debug("Loaded .env file")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.GetLogger().Error("Environment validation failed", zap.Error(err))
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		logging.GetLogger().Error("Failed to initialize logger", zap.Error(err))
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Tracing (optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OtelEndpoint)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			logging.Info(ctx, "Tracing initialized", zap.String("endpoint", cfg.OtelEndpoint))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logging.Error(ctx, "Tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	// --- Broker core ---
	limiter, err := ratelimit.New(cfg.RateLimitWsIp)
	if err != nil {
		logging.Error(ctx, "Invalid rate limit configuration", zap.Error(err))
		os.Exit(1)
	}

	registry := room.NewRegistry()
	ledger := invite.NewLedger(invite.DefaultTTL, invite.SweepInterval)
	router := signaling.New(registry, ledger, limiter)
	hub := transport.NewHub(router, limiter, cfg.Origins())

	// --- HTTP surface ---
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationID())
	engine.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	if cfg.AllowAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Origins()
	}
	engine.Use(cors.New(corsConfig))

	engine.GET("/ws", hub.ServeWs)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(health.StateStats{
		Rooms:       registry.RoomCount,
		Invites:     ledger.Len,
		Connections: hub.SessionCount,
	})
	engine.GET("/health", healthHandler.Health)
	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "Broker listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Hub shutdown incomplete", zap.Error(err))
	}
	ledger.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "Broker exited")
}
