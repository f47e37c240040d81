// Package merger combines provider payloads for one instrument into a
// single partial update.
//
// Fields are partitioned by provider: every field has at most one source per
// cycle. Fields no payload supplies keep their persisted value.
package merger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"market_etl_backend/models"
	"market_etl_backend/services/session"
)

var (
	ErrFieldCollision = errors.New("field supplied by more than one provider")
	ErrFieldType      = errors.New("field value has wrong type")
	ErrUnknownField   = errors.New("unknown field")
)

var hundred = decimal.NewFromInt(100)

// Patch is the set of fields one provider supplied for one instrument.
// Values hold decimal.Decimal, int64 or time.Time depending on the field.
type Patch struct {
	Source string
	Values map[Field]any
}

// Payload is a successful provider result that can be merged
type Payload interface {
	Patch() Patch
}

// Merged is a record ready to persist
type Merged struct {
	Record   models.Instrument
	Updates  map[string]any
	Supplied map[Field]string
	Status   session.Status
}

// Merger applies payloads on top of the persisted record
type Merger struct {
	classifier *session.Classifier
	now        func() time.Time
}

// New creates a Merger. A nil now uses the wall clock.
func New(classifier *session.Classifier, now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{classifier: classifier, now: now}
}

// Merge applies payloads to current and derives turnover, change and
// market status. current is not modified.
func (m *Merger) Merge(current models.Instrument, payloads ...Payload) (*Merged, error) {
	out := &Merged{
		Record:   current,
		Updates:  make(map[string]any),
		Supplied: make(map[Field]string),
	}
	rec := &out.Record

	for _, p := range payloads {
		if p == nil {
			continue
		}
		patch := p.Patch()
		fields := make([]Field, 0, len(patch.Values))
		for f := range patch.Values {
			fields = append(fields, f)
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

		for _, f := range fields {
			if src, dup := out.Supplied[f]; dup {
				return nil, fmt.Errorf("%w: %s from %s and %s", ErrFieldCollision, f, src, patch.Source)
			}
			val, err := set(rec, f, patch.Values[f])
			if err != nil {
				return nil, err
			}
			out.Updates[f.Column()] = val
			out.Supplied[f] = patch.Source
		}
	}

	m.deriveTurnover(out)
	m.deriveChange(out)

	now := m.now()
	out.Status = session.Unknown
	if m.classifier != nil {
		out.Status = m.classifier.Classify(rec.QuoteTime, now)
	}
	rec.MarketStatus = string(out.Status)
	rec.LastUpdated = null.TimeFrom(now.UTC())
	out.Updates["market_status"] = rec.MarketStatus
	out.Updates["last_updated"] = rec.LastUpdated

	return out, nil
}

func (m *Merger) deriveTurnover(out *Merged) {
	rec := &out.Record
	if out.suppliedAny(Turnover) || !out.suppliedAny(Volume, LastPrice) {
		return
	}
	if !rec.Volume.Valid || !rec.LastPrice.Valid {
		return
	}
	rec.Turnover = decimal.NewNullDecimal(rec.LastPrice.Decimal.Mul(decimal.NewFromInt(rec.Volume.Int64)).Round(4))
	out.Updates[Turnover.Column()] = rec.Turnover
}

func (m *Merger) deriveChange(out *Merged) {
	rec := &out.Record
	if !out.suppliedAny(LastPrice, PreviousClose) {
		return
	}
	if !rec.LastPrice.Valid || !rec.PreviousClose.Valid || rec.PreviousClose.Decimal.IsZero() {
		return
	}
	diff := rec.LastPrice.Decimal.Sub(rec.PreviousClose.Decimal)
	if !out.suppliedAny(ChangeAmount) {
		rec.ChangeAmount = decimal.NewNullDecimal(diff.Round(6))
		out.Updates[ChangeAmount.Column()] = rec.ChangeAmount
	}
	if !out.suppliedAny(ChangePercent) {
		rec.ChangePercent = decimal.NewNullDecimal(diff.Div(rec.PreviousClose.Decimal).Mul(hundred).Round(6))
		out.Updates[ChangePercent.Column()] = rec.ChangePercent
	}
}

func (m *Merged) suppliedAny(fields ...Field) bool {
	for _, f := range fields {
		if _, ok := m.Supplied[f]; ok {
			return true
		}
	}
	return false
}
