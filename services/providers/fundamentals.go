package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"market_etl_backend/config"
	"market_etl_backend/services/merger"
)

// FundamentalsAdapter fetches basic financials in the Finnhub
// /stock/metric?metric=all shape
type FundamentalsAdapter struct {
	endpoint
}

// NewFundamentalsAdapter creates a fundamentals adapter
func NewFundamentalsAdapter(cfg config.ProviderConfig, client *http.Client) *FundamentalsAdapter {
	return &FundamentalsAdapter{endpoint: newEndpoint(Fundamentals, cfg, client)}
}

func (a *FundamentalsAdapter) Name() string { return Fundamentals }

func (a *FundamentalsAdapter) Configured() error { return a.configured() }

type metricResponse struct {
	Symbol string          `json:"symbol"`
	Metric json.RawMessage `json:"metric"`
}

type metricValues struct {
	MarketCap     decimal.NullDecimal `json:"marketCapitalization"`
	PETTM         decimal.NullDecimal `json:"peTTM"`
	ROETTM        decimal.NullDecimal `json:"roeTTM"`
	PBRatio       decimal.NullDecimal `json:"pbQuarterly"`
	DebtToEquity  decimal.NullDecimal `json:"totalDebt/totalEquityQuarterly"`
	CurrentRatio  decimal.NullDecimal `json:"currentRatioQuarterly"`
	DividendYield decimal.NullDecimal `json:"currentDividendYieldTTM"`
}

// FundamentalsPayload holds the fundamentals fields the provider returned.
// MarketCap is in millions.
type FundamentalsPayload struct {
	MarketCap     decimal.NullDecimal
	PETTM         decimal.NullDecimal
	ROETTM        decimal.NullDecimal
	PBRatio       decimal.NullDecimal
	DebtToEquity  decimal.NullDecimal
	CurrentRatio  decimal.NullDecimal
	DividendYield decimal.NullDecimal
}

func (p *FundamentalsPayload) fields() map[merger.Field]decimal.NullDecimal {
	return map[merger.Field]decimal.NullDecimal{
		merger.MarketCap:     p.MarketCap,
		merger.PETTM:         p.PETTM,
		merger.ROETTM:        p.ROETTM,
		merger.PBRatio:       p.PBRatio,
		merger.DebtToEquity:  p.DebtToEquity,
		merger.CurrentRatio:  p.CurrentRatio,
		merger.DividendYield: p.DividendYield,
	}
}

// Patch lists the fundamentals fields present in this payload
func (p *FundamentalsPayload) Patch() merger.Patch {
	values := make(map[merger.Field]any)
	for f, v := range p.fields() {
		if v.Valid {
			values[f] = v.Decimal
		}
	}
	return merger.Patch{Source: Fundamentals, Values: values}
}

// Fetch returns the latest fundamentals for symbol
func (a *FundamentalsAdapter) Fetch(ctx context.Context, symbol string) Result {
	var resp metricResponse
	query := url.Values{"symbol": {symbol}, "metric": {"all"}}
	if pe := a.getJSON(ctx, "/stock/metric", query, "token", &resp); pe != nil {
		return failWith(pe)
	}
	return parseFundamentals(symbol, resp)
}

func parseFundamentals(symbol string, resp metricResponse) Result {
	if len(resp.Metric) == 0 || string(resp.Metric) == "null" {
		return noData(Fundamentals, "%s: no metric object", symbol)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Metric, &raw); err != nil {
		return malformed(Fundamentals, "%s: metric is not an object: %v", symbol, err)
	}
	if len(raw) == 0 {
		return noData(Fundamentals, "%s: empty metric object", symbol)
	}

	var m metricValues
	if err := json.Unmarshal(resp.Metric, &m); err != nil {
		return malformed(Fundamentals, "%s: decode metric: %v", symbol, err)
	}
	if m.MarketCap.Valid && m.MarketCap.Decimal.IsNegative() {
		return malformed(Fundamentals, "%s: negative market cap", symbol)
	}
	if m.CurrentRatio.Valid && m.CurrentRatio.Decimal.IsNegative() {
		return malformed(Fundamentals, "%s: negative current ratio", symbol)
	}
	if m.DividendYield.Valid && m.DividendYield.Decimal.IsNegative() {
		return malformed(Fundamentals, "%s: negative dividend yield", symbol)
	}

	p := &FundamentalsPayload{
		MarketCap:     m.MarketCap,
		PETTM:         m.PETTM,
		ROETTM:        m.ROETTM,
		PBRatio:       m.PBRatio,
		DebtToEquity:  m.DebtToEquity,
		CurrentRatio:  m.CurrentRatio,
		DividendYield: m.DividendYield,
	}
	if len(p.Patch().Values) == 0 {
		return noData(Fundamentals, "%s: none of the tracked metrics present", symbol)
	}
	return Ok(p)
}
