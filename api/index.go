package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_etl_backend/app"
	"market_etl_backend/config"
)

var (
	router  *gin.Engine
	initErr error
	once    sync.Once
)

// setup builds the router on the first request. Serverless instances have
// no scheduler; an external cron calls the queue endpoints.
func setup() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		initErr = err
		return
	}
	cfg.Scheduler.Enabled = false

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("initialization failed", zap.Error(err))
		initErr = err
		return
	}

	router = gin.New()
	application.Mount(router)
}

// Handler is the Vercel serverless function handler
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":503,"message":"service not initialized"}`))
		return
	}
	router.ServeHTTP(w, r)
}
