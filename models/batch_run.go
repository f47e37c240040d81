package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Batch run operations
const (
	OperationStart = "start"
	OperationBatch = "batch"
	OperationStop  = "stop"
)

// BatchRun records one invocation of a queue operation
type BatchRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Operation   string         `gorm:"size:16;not null;index" json:"operation"`
	TradingDay  string         `gorm:"size:10;index" json:"trading_day"`
	Processed   int            `json:"processed"`
	Errors      int            `json:"errors"`
	Remaining   int64          `json:"remaining"`
	Forced      int64          `json:"forced"`
	AlreadyDone int64          `json:"already_done"`
	Results     datatypes.JSON `json:"results,omitempty"`
	StartedAt   time.Time      `gorm:"index" json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	DurationMS  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
}

// BeforeCreate assigns an id when the caller did not
func (r *BatchRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
