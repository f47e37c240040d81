package merger

import (
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"market_etl_backend/models"
)

// Field names an instrument attribute a provider may own
type Field string

const (
	LastPrice     Field = "last_price"
	OpenPrice     Field = "open_price"
	HighPrice     Field = "high_price"
	LowPrice      Field = "low_price"
	PreviousClose Field = "previous_close"
	ChangeAmount  Field = "change_amount"
	ChangePercent Field = "change_percent"
	Volume        Field = "volume"
	Turnover      Field = "turnover"
	VWAP          Field = "vwap"
	TradeCount    Field = "trade_count"
	QuoteTime     Field = "quote_time"

	MarketCap     Field = "market_cap"
	PETTM         Field = "pe_ttm"
	ROETTM        Field = "roe_ttm"
	PBRatio       Field = "pb_ratio"
	DebtToEquity  Field = "debt_to_equity"
	CurrentRatio  Field = "current_ratio"
	DividendYield Field = "dividend_yield"
)

// Column returns the database column backing the field
func (f Field) Column() string {
	return string(f)
}

type decimalField func(*models.Instrument) *decimal.NullDecimal

var decimalFields = map[Field]decimalField{
	LastPrice:     func(r *models.Instrument) *decimal.NullDecimal { return &r.LastPrice },
	OpenPrice:     func(r *models.Instrument) *decimal.NullDecimal { return &r.OpenPrice },
	HighPrice:     func(r *models.Instrument) *decimal.NullDecimal { return &r.HighPrice },
	LowPrice:      func(r *models.Instrument) *decimal.NullDecimal { return &r.LowPrice },
	PreviousClose: func(r *models.Instrument) *decimal.NullDecimal { return &r.PreviousClose },
	ChangeAmount:  func(r *models.Instrument) *decimal.NullDecimal { return &r.ChangeAmount },
	ChangePercent: func(r *models.Instrument) *decimal.NullDecimal { return &r.ChangePercent },
	Turnover:      func(r *models.Instrument) *decimal.NullDecimal { return &r.Turnover },
	VWAP:          func(r *models.Instrument) *decimal.NullDecimal { return &r.VWAP },
	MarketCap:     func(r *models.Instrument) *decimal.NullDecimal { return &r.MarketCap },
	PETTM:         func(r *models.Instrument) *decimal.NullDecimal { return &r.PETTM },
	ROETTM:        func(r *models.Instrument) *decimal.NullDecimal { return &r.ROETTM },
	PBRatio:       func(r *models.Instrument) *decimal.NullDecimal { return &r.PBRatio },
	DebtToEquity:  func(r *models.Instrument) *decimal.NullDecimal { return &r.DebtToEquity },
	CurrentRatio:  func(r *models.Instrument) *decimal.NullDecimal { return &r.CurrentRatio },
	DividendYield: func(r *models.Instrument) *decimal.NullDecimal { return &r.DividendYield },
}

// set writes v into the record field f and returns the value to persist
func set(r *models.Instrument, f Field, v any) (any, error) {
	if get, ok := decimalFields[f]; ok {
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants decimal, got %T", ErrFieldType, f, v)
		}
		*get(r) = decimal.NewNullDecimal(d)
		return *get(r), nil
	}

	switch f {
	case Volume, TradeCount:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants int64, got %T", ErrFieldType, f, v)
		}
		if f == Volume {
			r.Volume = null.IntFrom(n)
			return r.Volume, nil
		}
		r.TradeCount = null.IntFrom(n)
		return r.TradeCount, nil
	case QuoteTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants time, got %T", ErrFieldType, f, v)
		}
		r.QuoteTime = null.TimeFrom(t.UTC())
		return r.QuoteTime, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
}
