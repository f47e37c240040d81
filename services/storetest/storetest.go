// Package storetest opens throwaway SQLite databases for store tests.
package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"market_etl_backend/models"
)

// Open returns a migrated database in the test's temp dir
func Open(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := filepath.Join(tb.TempDir(), "etl.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateModels(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedInstruments inserts one instrument per symbol
func SeedInstruments(tb testing.TB, db *gorm.DB, symbols ...string) []models.Instrument {
	tb.Helper()
	out := make([]models.Instrument, 0, len(symbols))
	for _, s := range symbols {
		inst := models.Instrument{Symbol: s, Name: s + " Inc", MarketStatus: "unknown"}
		if err := db.Create(&inst).Error; err != nil {
			tb.Fatalf("seed %s: %v", s, err)
		}
		out = append(out, inst)
	}
	return out
}
