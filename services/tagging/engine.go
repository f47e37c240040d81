// Package tagging recomputes rule-derived tag memberships for instruments.
//
// The engine owns every tag of kind "derived". Curated tags and their
// associations are never read or written here.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"market_etl_backend/models"
)

// ErrCuratedName is returned when a derived tag name is taken by a curated tag
var ErrCuratedName = errors.New("tag name belongs to a curated tag")

// Engine deletes and re-derives an instrument's derived tags
type Engine struct {
	db     *gorm.DB
	rules  []Rule
	ids    *cache.Cache
	logger *zap.Logger
}

// NewEngine creates an Engine with the default rules
func NewEngine(db *gorm.DB, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		rules:  DefaultRules(),
		ids:    cache.New(30*time.Minute, time.Hour),
		logger: logger,
	}
}

// WithRules replaces the rule set
func (e *Engine) WithRules(rules []Rule) *Engine {
	e.rules = rules
	return e
}

// Recompute replaces inst's derived tags with the current rule results and
// returns the assigned tag names. With a non-nil tx the work joins the
// caller's transaction; otherwise it runs in its own.
func (e *Engine) Recompute(ctx context.Context, tx *gorm.DB, inst models.Instrument) ([]string, error) {
	if inst.ID == 0 {
		return nil, fmt.Errorf("recompute tags for %q: instrument has no id", inst.Symbol)
	}
	defs := Evaluate(e.rules, inst)

	var names []string
	run := func(tx *gorm.DB) error {
		names = names[:0]
		derived := tx.Model(&models.Tag{}).Select("id").Where("kind = ?", models.TagKindDerived)
		if err := tx.Where("instrument_id = ? AND tag_id IN (?)", inst.ID, derived).
			Delete(&models.InstrumentTag{}).Error; err != nil {
			return fmt.Errorf("clear derived tags: %w", err)
		}

		for _, def := range defs {
			id, err := e.tagID(tx, def)
			if err != nil {
				return err
			}
			link := models.InstrumentTag{InstrumentID: inst.ID, TagID: id}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("assign tag %s: %w", def.Name, err)
			}
			names = append(names, def.Name)
		}
		return nil
	}

	var err error
	if tx != nil {
		err = run(tx.WithContext(ctx))
	} else {
		err = e.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("derived tags recomputed",
		zap.String("symbol", inst.Symbol),
		zap.Strings("tags", names),
	)
	return names, nil
}

// tagID finds or creates the derived tag row. Only ids of rows that already
// existed are cached, so a rolled-back create never leaves a stale id.
func (e *Engine) tagID(tx *gorm.DB, def TagDef) (uint, error) {
	if v, ok := e.ids.Get(def.Name); ok {
		return v.(uint), nil
	}

	var tag models.Tag
	err := tx.Where("name = ?", def.Name).Take(&tag).Error
	switch {
	case err == nil:
		if tag.Kind != models.TagKindDerived {
			return 0, fmt.Errorf("%w: %s", ErrCuratedName, def.Name)
		}
		e.ids.SetDefault(def.Name, tag.ID)
		return tag.ID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		tag = models.Tag{Name: def.Name, Label: def.Label, Kind: models.TagKindDerived, Category: def.Category}
		if err := tx.Create(&tag).Error; err != nil {
			return 0, fmt.Errorf("create tag %s: %w", def.Name, err)
		}
		return tag.ID, nil
	default:
		return 0, fmt.Errorf("load tag %s: %w", def.Name, err)
	}
}

// Forget drops cached tag ids, used after tags are edited out of band
func (e *Engine) Forget() {
	e.ids.Flush()
}
