package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the record store is reachable
type Pinger interface {
	Ping() error
}

// HealthController serves liveness and readiness probes
type HealthController struct {
	db Pinger
}

// NewHealthController creates a health controller
func NewHealthController(db Pinger) *HealthController {
	return &HealthController{db: db}
}

// Health always reports ok while the process is serving
// GET /health
func (hc *HealthController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// Ready reports whether the database answers a ping
// GET /ready
func (hc *HealthController) Ready(c *gin.Context) {
	if hc.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}

	done := make(chan error, 1)
	go func() { done <- hc.db.Ping() }()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	select {
	case err := <-done:
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	case <-ctx.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_timeout"})
	}
}
