package merger

import (
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"market_etl_backend/config"
	"market_etl_backend/models"
	"market_etl_backend/services/session"
)

type testPayload Patch

func (p testPayload) Patch() Patch { return Patch(p) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMerger(t *testing.T, now time.Time) *Merger {
	t.Helper()
	c, err := session.NewClassifier(config.MarketConfig{
		Timezone:      "America/New_York",
		PreMarket:     "04:00-09:30",
		RegularMarket: "09:30-16:00",
		PostMarket:    "16:00-20:00",
		StaleAfter:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return New(c, func() time.Time { return now })
}

func quotePayload(ts time.Time) testPayload {
	return testPayload{Source: "quote", Values: map[Field]any{
		LastPrice:     dec("187.5"),
		OpenPrice:     dec("185"),
		HighPrice:     dec("188.2"),
		LowPrice:      dec("184.9"),
		PreviousClose: dec("184"),
		QuoteTime:     ts,
	}}
}

func fundamentalsPayload() testPayload {
	return testPayload{Source: "fundamentals", Values: map[Field]any{
		MarketCap:    dec("2900000"),
		PETTM:        dec("29.4"),
		ROETTM:       dec("147.2"),
		DebtToEquity: dec("1.8"),
		CurrentRatio: dec("0.95"),
	}}
}

func TestMergeQuoteAndFundamentalsDoNotCollide(t *testing.T) {
	now := time.Date(2026, 3, 4, 16, 30, 0, 0, time.UTC) // 11:30 New York
	m := newMerger(t, now)
	quoteTS := now.Add(-10 * time.Minute)

	q, f := quotePayload(quoteTS), fundamentalsPayload()
	merged, err := m.Merge(models.Instrument{Symbol: "AAPL"}, q, f)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	rec := merged.Record
	checks := map[string]struct {
		got  decimal.NullDecimal
		want decimal.Decimal
	}{
		"last_price":     {rec.LastPrice, dec("187.5")},
		"previous_close": {rec.PreviousClose, dec("184")},
		"market_cap":     {rec.MarketCap, dec("2900000")},
		"pe_ttm":         {rec.PETTM, dec("29.4")},
		"current_ratio":  {rec.CurrentRatio, dec("0.95")},
	}
	for name, c := range checks {
		if !c.got.Valid || !c.got.Decimal.Equal(c.want) {
			t.Errorf("%s = %v, want %s", name, c.got, c.want)
		}
	}
	for field, src := range merged.Supplied {
		_, inQuote := q.Values[field]
		_, inFund := f.Values[field]
		if inQuote && inFund {
			t.Fatalf("field %s supplied by both providers", field)
		}
		if inQuote && src != "quote" || inFund && src != "fundamentals" {
			t.Fatalf("field %s attributed to %s", field, src)
		}
	}
	if merged.Status != session.Open {
		t.Fatalf("status = %s, want open", merged.Status)
	}
	if rec.MarketStatus != "open" {
		t.Fatalf("record market_status = %q", rec.MarketStatus)
	}
	if !rec.LastUpdated.Valid || !rec.LastUpdated.Time.Equal(now) {
		t.Fatalf("last_updated = %v", rec.LastUpdated)
	}
}

func TestMergeRejectsCollision(t *testing.T) {
	m := newMerger(t, time.Now())
	a := testPayload{Source: "quote", Values: map[Field]any{LastPrice: dec("10")}}
	b := testPayload{Source: "aggregates", Values: map[Field]any{LastPrice: dec("11")}}

	if _, err := m.Merge(models.Instrument{}, a, b); !errors.Is(err, ErrFieldCollision) {
		t.Fatalf("Merge err = %v, want ErrFieldCollision", err)
	}
}

func TestMergeDerivesChangeAndTurnover(t *testing.T) {
	now := time.Date(2026, 3, 4, 16, 30, 0, 0, time.UTC)
	m := newMerger(t, now)
	aggs := testPayload{Source: "aggregates", Values: map[Field]any{
		Volume:     int64(1000),
		VWAP:       dec("186.1"),
		TradeCount: int64(42),
	}}

	merged, err := m.Merge(models.Instrument{}, quotePayload(now), aggs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	rec := merged.Record
	if !rec.ChangeAmount.Decimal.Equal(dec("3.5")) {
		t.Fatalf("change_amount = %s", rec.ChangeAmount.Decimal)
	}
	if !rec.ChangePercent.Decimal.Equal(dec("1.902174")) {
		t.Fatalf("change_percent = %s", rec.ChangePercent.Decimal)
	}
	if !rec.Turnover.Decimal.Equal(dec("187500")) {
		t.Fatalf("turnover = %s", rec.Turnover.Decimal)
	}
	if _, ok := merged.Updates["turnover"]; !ok {
		t.Fatalf("derived turnover missing from updates")
	}
}

func TestMergeKeepsSuppliedChange(t *testing.T) {
	m := newMerger(t, time.Now())
	q := quotePayload(time.Now())
	q.Values[ChangeAmount] = dec("3.49")
	q.Values[ChangePercent] = dec("1.9")

	merged, err := m.Merge(models.Instrument{}, q)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !merged.Record.ChangeAmount.Decimal.Equal(dec("3.49")) || !merged.Record.ChangePercent.Decimal.Equal(dec("1.9")) {
		t.Fatalf("supplied change overwritten: %s / %s", merged.Record.ChangeAmount.Decimal, merged.Record.ChangePercent.Decimal)
	}
}

func TestMergeSkipsChangeOnZeroPreviousClose(t *testing.T) {
	m := newMerger(t, time.Now())
	q := testPayload{Source: "quote", Values: map[Field]any{LastPrice: dec("5"), PreviousClose: decimal.Zero}}

	merged, err := m.Merge(models.Instrument{}, q)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Record.ChangeAmount.Valid || merged.Record.ChangePercent.Valid {
		t.Fatalf("change derived from zero previous close")
	}
}

func TestMergeWithoutPayloadsKeepsPersistedValues(t *testing.T) {
	now := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	m := newMerger(t, now)
	current := models.Instrument{
		Symbol:    "MSFT",
		LastPrice: decimal.NewNullDecimal(dec("410")),
		Volume:    null.IntFrom(5),
		QuoteTime: null.TimeFrom(now.Add(-48 * time.Hour)),
	}

	merged, err := m.Merge(current)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !merged.Record.LastPrice.Decimal.Equal(dec("410")) {
		t.Fatalf("last_price changed: %s", merged.Record.LastPrice.Decimal)
	}
	if merged.Record.Turnover.Valid {
		t.Fatalf("turnover derived without fresh inputs")
	}
	if merged.Status != session.Closed {
		t.Fatalf("status = %s, want closed for stale persisted quote", merged.Status)
	}
	if _, ok := merged.Updates["last_price"]; ok {
		t.Fatalf("unsupplied field in updates")
	}
}

func TestMergeWithoutTimestampIsUnknown(t *testing.T) {
	m := newMerger(t, time.Now())
	merged, err := m.Merge(models.Instrument{}, fundamentalsPayload())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Status != session.Unknown {
		t.Fatalf("status = %s, want unknown", merged.Status)
	}
}

func TestMergeRejectsWrongType(t *testing.T) {
	m := newMerger(t, time.Now())
	bad := testPayload{Source: "aggregates", Values: map[Field]any{Volume: "lots"}}
	if _, err := m.Merge(models.Instrument{}, bad); !errors.Is(err, ErrFieldType) {
		t.Fatalf("Merge err = %v, want ErrFieldType", err)
	}
}
