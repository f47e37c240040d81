package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market_etl_backend/config"
	"market_etl_backend/services/merger"
)

// AggregatesAdapter fetches the previous session bar in the Polygon
// /v2/aggs/ticker/{symbol}/prev shape
type AggregatesAdapter struct {
	endpoint
}

// NewAggregatesAdapter creates an aggregates adapter
func NewAggregatesAdapter(cfg config.ProviderConfig, client *http.Client) *AggregatesAdapter {
	return &AggregatesAdapter{endpoint: newEndpoint(Aggregates, cfg, client)}
}

func (a *AggregatesAdapter) Name() string { return Aggregates }

func (a *AggregatesAdapter) Configured() error { return a.configured() }

type aggregatesResponse struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		// "T" must be declared so it does not fall back onto "t"
		Symbol string              `json:"T"`
		Open   decimal.NullDecimal `json:"o"`
		High   decimal.NullDecimal `json:"h"`
		Low    decimal.NullDecimal `json:"l"`
		Close  decimal.NullDecimal `json:"c"`
		Volume decimal.NullDecimal `json:"v"`
		VWAP   decimal.NullDecimal `json:"vw"`
		Trades *int64              `json:"n"`
		Time   int64               `json:"t"` // unix ms
	} `json:"results"`
}

// AggregatesPayload is a validated previous-session bar. Only volume, VWAP
// and trade count are merged; OHLC belongs to the quote provider.
type AggregatesPayload struct {
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	VWAP       decimal.NullDecimal
	TradeCount *int64
	BarTime    time.Time
}

// Patch lists the aggregates-owned fields
func (p *AggregatesPayload) Patch() merger.Patch {
	values := map[merger.Field]any{
		merger.Volume: p.Volume,
	}
	if p.VWAP.Valid {
		values[merger.VWAP] = p.VWAP.Decimal
	}
	if p.TradeCount != nil {
		values[merger.TradeCount] = *p.TradeCount
	}
	return merger.Patch{Source: Aggregates, Values: values}
}

// Fetch returns the previous session bar for symbol
func (a *AggregatesAdapter) Fetch(ctx context.Context, symbol string) Result {
	var resp aggregatesResponse
	path := "/v2/aggs/ticker/" + url.PathEscape(strings.ToUpper(symbol)) + "/prev"
	if pe := a.getJSON(ctx, path, url.Values{"adjusted": {"true"}}, "apiKey", &resp); pe != nil {
		return failWith(pe)
	}
	return parseAggregates(symbol, resp)
}

func parseAggregates(symbol string, resp aggregatesResponse) Result {
	if strings.EqualFold(resp.Status, "ERROR") {
		return malformed(Aggregates, "%s: provider status %s", symbol, resp.Status)
	}
	if resp.ResultsCount == 0 || len(resp.Results) == 0 {
		return noData(Aggregates, "%s: no previous session bar", symbol)
	}

	bar := resp.Results[0]
	if !bar.Volume.Valid || !bar.Close.Valid {
		return malformed(Aggregates, "%s: bar missing v or c", symbol)
	}
	allZero := true
	for _, v := range []decimal.NullDecimal{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.VWAP} {
		if v.Valid && v.Decimal.IsNegative() {
			return malformed(Aggregates, "%s: negative value %s", symbol, v.Decimal)
		}
		if v.Valid && !v.Decimal.IsZero() {
			allZero = false
		}
	}
	if allZero {
		return noData(Aggregates, "%s: all-zero bar", symbol)
	}
	if bar.Trades != nil && *bar.Trades < 0 {
		return malformed(Aggregates, "%s: negative trade count", symbol)
	}

	p := &AggregatesPayload{
		Open:       bar.Open.Decimal,
		High:       bar.High.Decimal,
		Low:        bar.Low.Decimal,
		Close:      bar.Close.Decimal,
		Volume:     bar.Volume.Decimal.IntPart(),
		VWAP:       bar.VWAP,
		TradeCount: bar.Trades,
	}
	if bar.Time > 0 {
		p.BarTime = time.UnixMilli(bar.Time).UTC()
	}
	return Ok(p)
}
