// Package runlog persists the history of queue invocations.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"market_etl_backend/models"
)

const maxRecent = 200

// Store reads and writes BatchRun rows
type Store struct {
	db *gorm.DB
}

// New creates a Store on db
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record inserts run. When results is non-nil it is stored as JSON.
func (s *Store) Record(ctx context.Context, run *models.BatchRun, results any) error {
	if results != nil {
		raw, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode run results: %w", err)
		}
		run.Results = datatypes.JSON(raw)
	}
	if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
		run.DurationMS = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("record %s run: %w", run.Operation, err)
	}
	return nil
}

// Recent returns the latest runs, newest first. operation filters when non-empty.
func (s *Store) Recent(ctx context.Context, operation string, limit int) ([]models.BatchRun, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if operation != "" {
		q = q.Where("operation = ?", operation)
	}
	var runs []models.BatchRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	return runs, nil
}

// Last returns the most recent run, or nil when none exist
func (s *Store) Last(ctx context.Context) (*models.BatchRun, error) {
	var run models.BatchRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last run: %w", err)
	}
	return &run, nil
}
