package models

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Instrument is the canonical record for one tradable symbol. Records are
// onboarded elsewhere; the ETL pipeline only writes the snapshot fields,
// MarketStatus, DailyWatermark and LastUpdated.
type Instrument struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Symbol    string `gorm:"uniqueIndex;size:32;not null" json:"symbol"`
	Name      string `json:"name"`
	NameLocal string `json:"name_local"`
	Sector    string `json:"sector"`
	Industry  string `json:"industry"`

	// Pricing snapshot
	LastPrice     decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"last_price"`
	OpenPrice     decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"open_price"`
	HighPrice     decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"high_price"`
	LowPrice      decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"low_price"`
	PreviousClose decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"previous_close"`
	ChangeAmount  decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"change_amount"`
	ChangePercent decimal.NullDecimal `gorm:"type:decimal(12,6)" json:"change_percent"`
	Volume        null.Int            `json:"volume"`
	Turnover      decimal.NullDecimal `gorm:"type:decimal(24,4)" json:"turnover"`
	VWAP          decimal.NullDecimal `gorm:"column:vwap;type:decimal(20,6)" json:"vwap"`
	TradeCount    null.Int            `json:"trade_count"`
	QuoteTime     null.Time           `json:"quote_time"`

	// Fundamentals snapshot; MarketCap is in millions of the quote currency
	MarketCap     decimal.NullDecimal `gorm:"type:decimal(24,4)" json:"market_cap"`
	PETTM         decimal.NullDecimal `gorm:"column:pe_ttm;type:decimal(16,6)" json:"pe_ttm"`
	ROETTM        decimal.NullDecimal `gorm:"column:roe_ttm;type:decimal(16,6)" json:"roe_ttm"`
	PBRatio       decimal.NullDecimal `gorm:"column:pb_ratio;type:decimal(16,6)" json:"pb_ratio"`
	DebtToEquity  decimal.NullDecimal `gorm:"type:decimal(16,6)" json:"debt_to_equity"`
	CurrentRatio  decimal.NullDecimal `gorm:"type:decimal(16,6)" json:"current_ratio"`
	DividendYield decimal.NullDecimal `gorm:"type:decimal(12,6)" json:"dividend_yield"`

	MarketStatus   string      `gorm:"size:16;not null;default:unknown" json:"market_status"`
	DailyWatermark null.String `gorm:"size:10;index" json:"daily_watermark"` // YYYY-MM-DD, exchange time zone
	LastUpdated    null.Time   `json:"last_updated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MigrateModels runs database migrations for all ETL models
func MigrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instrument{},
		&Tag{},
		&InstrumentTag{},
		&BatchRun{},
	)
}
