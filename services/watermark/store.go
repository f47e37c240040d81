// Package watermark tracks, per instrument, the last trading day whose data
// was confirmed refreshed.
//
// An instrument is pending for day D when its watermark is absent or earlier
// than D. Watermarks only move forward; ResetAll is the one way back.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"market_etl_backend/models"
)

const dayLayout = "2006-01-02"

const pendingCond = "(daily_watermark IS NULL OR daily_watermark < ?)"

// Day formats t as a trading day in the exchange time zone
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// Store reads and writes instrument watermarks
type Store struct {
	db *gorm.DB
}

// New creates a Store on db
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

func (s *Store) instruments(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Instrument{})
}

// ResetAll clears every watermark and returns how many were set
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	res := s.instruments(ctx).
		Where("daily_watermark IS NOT NULL").
		UpdateColumn("daily_watermark", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("reset watermarks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// IsPending reports whether symbol still needs a refresh for day
func (s *Store) IsPending(ctx context.Context, symbol, day string) (bool, error) {
	var inst models.Instrument
	err := s.db.WithContext(ctx).
		Select("id", "daily_watermark").
		Where("symbol = ?", symbol).
		Take(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("instrument %s: %w", symbol, err)
		}
		return false, fmt.Errorf("load watermark %s: %w", symbol, err)
	}
	return !inst.DailyWatermark.Valid || inst.DailyWatermark.String < day, nil
}

// ListPending returns up to limit pending symbols in ascending order
func (s *Store) ListPending(ctx context.Context, day string, limit int) ([]string, error) {
	var symbols []string
	q := s.instruments(ctx).Where(pendingCond, day).Order("symbol ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("symbol", &symbols).Error; err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return symbols, nil
}

// CountPending returns the number of instruments pending for day
func (s *Store) CountPending(ctx context.Context, day string) (int64, error) {
	var n int64
	if err := s.instruments(ctx).Where(pendingCond, day).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// CountDone returns the number of instruments already refreshed for day
func (s *Store) CountDone(ctx context.Context, day string) (int64, error) {
	var n int64
	if err := s.instruments(ctx).Where("daily_watermark >= ?", day).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count done: %w", err)
	}
	return n, nil
}

// CountAll returns the number of instruments
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.instruments(ctx).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count instruments: %w", err)
	}
	return n, nil
}

// MarkDone advances symbol's watermark to day. Calling it again, or with an
// earlier day, is a no-op.
func (s *Store) MarkDone(ctx context.Context, symbol, day string) error {
	res := s.instruments(ctx).
		Where("symbol = ?", symbol).
		Where(pendingCond, day).
		UpdateColumn("daily_watermark", day)
	if res.Error != nil {
		return fmt.Errorf("mark %s done: %w", symbol, res.Error)
	}
	return nil
}

// ForceCompleteAllPending sets day as the watermark of every pending
// instrument without touching any other column
func (s *Store) ForceCompleteAllPending(ctx context.Context, day string) (int64, error) {
	res := s.instruments(ctx).
		Where(pendingCond, day).
		UpdateColumn("daily_watermark", day)
	if res.Error != nil {
		return 0, fmt.Errorf("force complete: %w", res.Error)
	}
	return res.RowsAffected, nil
}
