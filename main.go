package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_etl_backend/app"
	"market_etl_backend/config"
)

func main() {
	// Optional YAML file; env vars and .env cover everything otherwise
	cfg, err := config.LoadConfig(os.Getenv("ETL_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("market ETL backend starting", zap.String("env", cfg.App.Env))

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialization failed", zap.Error(err))
	}

	router := gin.New()
	application.Mount(router)

	if err := application.Start(); err != nil {
		application.Close(ctx)
		logger.Fatal("scheduler failed to start", zap.Error(err))
	}

	// Process-batch can run for several minutes while pacing providers
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.App.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	gracefulShutdown(server, application, logger)
}

// gracefulShutdown waits for SIGINT/SIGTERM, drains HTTP and closes the app
func gracefulShutdown(server *http.Server, application *app.App, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	application.Close(ctx)

	logger.Info("server exited")
}
