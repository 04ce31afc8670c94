package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/repassist-platform/cmd/mainconfig"
	"github.com/wolfman30/repassist-platform/internal/api/router"
	"github.com/wolfman30/repassist-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/repassist-platform/internal/config"
	"github.com/wolfman30/repassist-platform/internal/http/handlers"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting rep-assist API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.Build(ctx, cfg, awsCfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	assistHandler := handlers.NewAssistHandler(runtime.Engine, runtime.Store, logger)

	var adminHandler *handlers.AdminHandler
	var ingester handlers.KnowledgeIngester
	if runtime.Semantic != nil {
		ingester = runtime.Semantic
	}
	var archiver handlers.RunArchiver
	if runtime.Exporter != nil {
		archiver = runtime.Exporter
	}
	adminHandler = handlers.NewAdminHandler(ingester, archiver, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		AssistHandler:      assistHandler,
		AdminHandler:       adminHandler,
		WebSocketHandler:   runtime.Hub.HandleWebSocket,
		MetricsHandler:     promhttp.Handler(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: []string{cfg.PublicBaseURL},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // websocket streams outlive normal requests
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	runtime.Close(shutdownCtx)
	logger.Info("API server stopped")
}
