// Package session maps a quote timestamp to the exchange's trading-session state.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"market_etl_backend/config"
)

// Status is a trading-session state
type Status string

const (
	Unknown    Status = "unknown"
	Closed     Status = "closed"
	Open       Status = "open"
	PreMarket  Status = "pre_market"
	PostMarket Status = "post_market"
)

// Window is a half-open [Start, End) range of minutes after local midnight.
// A window whose End is before its Start wraps past midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:MM-HH:MM". An empty string is an empty window.
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Window{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("session window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return Window{}, fmt.Errorf("session window %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return Window{}, fmt.Errorf("session window %q: %w", s, err)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether minute-of-day m falls inside the window
func (w Window) Contains(m int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// Classifier is a pure lookup from quote timestamp to session state
type Classifier struct {
	loc        *time.Location
	pre        Window
	regular    Window
	post       Window
	staleAfter time.Duration
}

// NewClassifier builds a Classifier from the market configuration
func NewClassifier(cfg config.MarketConfig) (*Classifier, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}

	c := &Classifier{loc: loc, staleAfter: cfg.StaleAfter}
	if c.staleAfter <= 0 {
		c.staleAfter = 24 * time.Hour
	}
	if c.pre, err = ParseWindow(cfg.PreMarket); err != nil {
		return nil, err
	}
	if c.regular, err = ParseWindow(cfg.RegularMarket); err != nil {
		return nil, err
	}
	if c.post, err = ParseWindow(cfg.PostMarket); err != nil {
		return nil, err
	}
	return c, nil
}

// Location returns the exchange time zone
func (c *Classifier) Location() *time.Location {
	return c.loc
}

// Classify returns the session state for quoteTime as seen at now
func (c *Classifier) Classify(quoteTime null.Time, now time.Time) Status {
	if !quoteTime.Valid {
		return Unknown
	}
	ts := quoteTime.Time
	if now.Sub(ts) > c.staleAfter {
		return Closed
	}

	local := ts.In(c.loc)
	minute := local.Hour()*60 + local.Minute()
	switch {
	case c.regular.Contains(minute):
		return Open
	case c.pre.Contains(minute):
		return PreMarket
	case c.post.Contains(minute):
		return PostMarket
	default:
		return Closed
	}
}
