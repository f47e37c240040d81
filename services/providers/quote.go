package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"market_etl_backend/config"
	"market_etl_backend/services/merger"
)

// QuoteAdapter fetches real-time quotes in the Finnhub /quote shape
type QuoteAdapter struct {
	endpoint
}

// NewQuoteAdapter creates a quote adapter
func NewQuoteAdapter(cfg config.ProviderConfig, client *http.Client) *QuoteAdapter {
	return &QuoteAdapter{endpoint: newEndpoint(Quote, cfg, client)}
}

func (a *QuoteAdapter) Name() string { return Quote }

func (a *QuoteAdapter) Configured() error { return a.configured() }

// quoteResponse mirrors GET /quote?symbol=
type quoteResponse struct {
	Current       decimal.NullDecimal `json:"c"`
	Open          decimal.NullDecimal `json:"o"`
	High          decimal.NullDecimal `json:"h"`
	Low           decimal.NullDecimal `json:"l"`
	PreviousClose decimal.NullDecimal `json:"pc"`
	Change        decimal.NullDecimal `json:"d"`
	ChangePercent decimal.NullDecimal `json:"dp"`
	Timestamp     int64               `json:"t"`
}

// QuotePayload is a validated quote
type QuotePayload struct {
	Last          decimal.Decimal
	Open          decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
	PreviousClose decimal.Decimal
	Change        decimal.NullDecimal
	ChangePercent decimal.NullDecimal
	Time          time.Time
}

// Patch lists the quote-owned fields
func (p *QuotePayload) Patch() merger.Patch {
	values := map[merger.Field]any{
		merger.LastPrice:     p.Last,
		merger.PreviousClose: p.PreviousClose,
	}
	if p.Open.Valid {
		values[merger.OpenPrice] = p.Open.Decimal
	}
	if p.High.Valid {
		values[merger.HighPrice] = p.High.Decimal
	}
	if p.Low.Valid {
		values[merger.LowPrice] = p.Low.Decimal
	}
	if p.Change.Valid {
		values[merger.ChangeAmount] = p.Change.Decimal
	}
	if p.ChangePercent.Valid {
		values[merger.ChangePercent] = p.ChangePercent.Decimal
	}
	if !p.Time.IsZero() {
		values[merger.QuoteTime] = p.Time
	}
	return merger.Patch{Source: Quote, Values: values}
}

// Fetch returns the latest quote for symbol
func (a *QuoteAdapter) Fetch(ctx context.Context, symbol string) Result {
	var resp quoteResponse
	if pe := a.getJSON(ctx, "/quote", url.Values{"symbol": {symbol}}, "token", &resp); pe != nil {
		return failWith(pe)
	}
	return parseQuote(symbol, resp)
}

func parseQuote(symbol string, resp quoteResponse) Result {
	prices := []decimal.NullDecimal{resp.Current, resp.Open, resp.High, resp.Low, resp.PreviousClose}
	if !resp.Current.Valid || !resp.PreviousClose.Valid {
		return malformed(Quote, "%s: quote missing c or pc", symbol)
	}

	allZero := true
	for _, p := range prices {
		if p.Valid && p.Decimal.IsNegative() {
			return malformed(Quote, "%s: negative price %s", symbol, p.Decimal)
		}
		if p.Valid && !p.Decimal.IsZero() {
			allZero = false
		}
	}
	if allZero {
		// Unknown and delisted symbols come back as an all-zero quote
		return noData(Quote, "%s: all-zero quote", symbol)
	}
	if resp.Timestamp < 0 {
		return malformed(Quote, "%s: negative timestamp %d", symbol, resp.Timestamp)
	}

	p := &QuotePayload{
		Last:          resp.Current.Decimal,
		Open:          resp.Open,
		High:          resp.High,
		Low:           resp.Low,
		PreviousClose: resp.PreviousClose.Decimal,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
	}
	if resp.Timestamp > 0 {
		p.Time = time.Unix(resp.Timestamp, 0).UTC()
	}
	return Ok(p)
}
