package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_etl_backend/services/batch"
	"market_etl_backend/services/etlerrors"
	"market_etl_backend/services/queue"
	"market_etl_backend/services/runlog"
)

// QueueController exposes the daily queue operations
type QueueController struct {
	control   *queue.Control
	processor *batch.Processor
	runs      *runlog.Store
	stream    http.Handler
	logger    *zap.Logger
}

// NewQueueController creates a queue controller. stream serves the progress
// websocket and may be nil.
func NewQueueController(control *queue.Control, processor *batch.Processor, runs *runlog.Store, stream http.Handler, logger *zap.Logger) *QueueController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueController{
		control:   control,
		processor: processor,
		runs:      runs,
		stream:    stream,
		logger:    logger,
	}
}

// Start reopens every instrument for today
// POST /api/v1/queue/start
func (qc *QueueController) Start(c *gin.Context) {
	res, err := qc.control.Start(c.Request.Context())
	if err != nil {
		qc.fail(c, "start", err)
		return
	}
	Ok(c, res, nil)
}

// ProcessBatch refreshes the next batch of pending instruments
// POST /api/v1/queue/process-batch?batch_size=70
func (qc *QueueController) ProcessBatch(c *gin.Context) {
	size := 0
	if raw := c.Query("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Fail(c, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
		size = n
	}

	// A disconnecting caller must not abort an instrument half way
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := qc.processor.RunBatch(ctx, size)
	if err != nil {
		qc.fail(c, "process-batch", err)
		return
	}
	Ok(c, res, nil)
}

// Stop marks everything still pending as done for today
// POST /api/v1/queue/stop
func (qc *QueueController) Stop(c *gin.Context) {
	res, err := qc.control.Stop(c.Request.Context())
	if err != nil {
		qc.fail(c, "stop", err)
		return
	}
	Ok(c, res, nil)
}

// Status returns today's pending and done counts
// GET /api/v1/queue/status
func (qc *QueueController) Status(c *gin.Context) {
	res, err := qc.control.Status(c.Request.Context())
	if err != nil {
		qc.fail(c, "status", err)
		return
	}
	Ok(c, res, nil)
}

// Runs lists recent queue invocations
// GET /api/v1/queue/runs?limit=20&operation=batch
func (qc *QueueController) Runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := qc.runs.Recent(c.Request.Context(), c.Query("operation"), limit)
	if err != nil {
		qc.fail(c, "runs", err)
		return
	}
	Ok(c, runs, map[string]any{"count": len(runs)})
}

// Stream upgrades to a websocket carrying progress events
// GET /api/v1/queue/ws
func (qc *QueueController) Stream(c *gin.Context) {
	if qc.stream == nil {
		Fail(c, http.StatusServiceUnavailable, "progress stream disabled")
		return
	}
	qc.stream.ServeHTTP(c.Writer, c.Request)
}

func (qc *QueueController) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, batch.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, etlerrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	qc.logger.Error("queue operation failed", zap.String("operation", op), zap.Int("status", status), zap.Error(err))
	_ = c.Error(err)
	Fail(c, status, err.Error())
}
