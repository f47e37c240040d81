package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market_etl_backend/config"
	"market_etl_backend/services/etlerrors"
)

const maxBodyBytes = 1 << 20

// FromConfig builds the enabled adapters in fixed call order: quote,
// aggregates, fundamentals. A nil client gets one per provider with the
// configured timeout.
func FromConfig(cfg config.ProvidersConfig, client *http.Client) []Adapter {
	var adapters []Adapter
	if cfg.Quote.Enabled {
		adapters = append(adapters, NewQuoteAdapter(cfg.Quote, client))
	}
	if cfg.Aggregates.Enabled {
		adapters = append(adapters, NewAggregatesAdapter(cfg.Aggregates, client))
	}
	if cfg.Fundamentals.Enabled {
		adapters = append(adapters, NewFundamentalsAdapter(cfg.Fundamentals, client))
	}
	return adapters
}

// Validate checks every adapter has the credentials it needs
func Validate(adapters []Adapter) error {
	if len(adapters) == 0 {
		return etlerrors.Configuration("no provider enabled")
	}
	for _, a := range adapters {
		if err := a.Configured(); err != nil {
			return err
		}
	}
	return nil
}

type endpoint struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
}

func newEndpoint(provider string, cfg config.ProviderConfig, client *http.Client) endpoint {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return endpoint{
		provider: provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

func (e endpoint) configured() error {
	if e.baseURL == "" {
		return etlerrors.Configuration("%s provider base_url is empty", e.provider)
	}
	if e.apiKey == "" {
		return etlerrors.Configuration("%s provider api_key is empty", e.provider)
	}
	return nil
}

// getJSON issues a GET and decodes the body into out. The api key is sent as
// the keyParam query parameter and never appears in returned errors.
func (e endpoint) getJSON(ctx context.Context, path string, query url.Values, keyParam string, out any) *etlerrors.ProviderError {
	if query == nil {
		query = url.Values{}
	}
	query.Set(keyParam, e.apiKey)
	u := e.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonTransport, fmt.Errorf("build request %s: %w", path, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonTransport, fmt.Errorf("GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonTransport, fmt.Errorf("read body %s: %w", path, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonRateLimited, fmt.Errorf("GET %s: status %d", path, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonTransport, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, snippet(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return etlerrors.NewProviderError(e.provider, etlerrors.ReasonMalformedResponse, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func malformed(provider, format string, args ...any) Result {
	return Fail(provider, etlerrors.ReasonMalformedResponse, fmt.Errorf(format, args...))
}

func noData(provider, format string, args ...any) Result {
	return Fail(provider, etlerrors.ReasonNoData, fmt.Errorf(format, args...))
}
