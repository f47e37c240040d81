package tagging

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"market_etl_backend/models"
	"market_etl_backend/services/storetest"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func names(defs []TagDef) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	return out
}

func TestDefaultRules(t *testing.T) {
	tests := []struct {
		name string
		inst models.Instrument
		want []string
	}{
		{
			name: "blue chip",
			inst: models.Instrument{
				MarketCap: nd("2900000"), PETTM: nd("29.4"), ROETTM: nd("147.2"),
				DebtToEquity: nd("1.8"), CurrentRatio: nd("0.95"), ChangePercent: nd("2.1"),
			},
			want: []string{"mega_cap", "growth", "high_roe", "moderate_leverage", "weak_liquidity", "gaining"},
		},
		{
			name: "bucket boundaries",
			inst: models.Instrument{
				MarketCap: nd("10000"), PETTM: nd("25"), ROETTM: nd("10"),
				DebtToEquity: nd("0.5"), CurrentRatio: nd("2"), ChangePercent: nd("-5"),
			},
			want: []string{"large_cap", "fair_value", "solid_roe", "moderate_leverage", "strong_liquidity", "plunging"},
		},
		{
			name: "small loss maker",
			inst: models.Instrument{
				MarketCap: nd("150"), PETTM: nd("-4"), ROETTM: nd("-12"),
				DebtToEquity: nd("-3"), CurrentRatio: nd("1.2"), ChangePercent: nd("0.4"),
			},
			want: []string{"micro_cap", "negative_roe", "high_leverage", "adequate_liquidity"},
		},
		{
			name: "nothing known",
			inst: models.Instrument{},
			want: nil,
		},
		{
			name: "cheap and falling",
			inst: models.Instrument{MarketCap: nd("2500"), PETTM: nd("8"), ChangePercent: nd("-2.5"), DebtToEquity: nd("0.2")},
			want: []string{"mid_cap", "deep_value", "low_leverage", "losing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(Evaluate(DefaultRules(), tt.inst))
			if len(got) != len(tt.want) {
				t.Fatalf("tags = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("tags = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func seed(t *testing.T) (*gorm.DB, models.Instrument, models.Tag) {
	t.Helper()
	db := storetest.Open(t)
	inst := storetest.SeedInstruments(t, db, "AAPL")[0]

	curated := models.Tag{Name: "dow_30", Label: "Dow 30", Kind: models.TagKindCurated}
	if err := db.Create(&curated).Error; err != nil {
		t.Fatalf("create curated tag: %v", err)
	}
	if err := db.Create(&models.InstrumentTag{InstrumentID: inst.ID, TagID: curated.ID}).Error; err != nil {
		t.Fatalf("link curated tag: %v", err)
	}

	inst.MarketCap = nd("2900000")
	inst.PETTM = nd("12")
	inst.ChangePercent = nd("6")
	return db, inst, curated
}

func assignedTags(t *testing.T, db *gorm.DB, instID uint, kind string) []string {
	t.Helper()
	var out []string
	err := db.Model(&models.Tag{}).
		Joins("JOIN instrument_tags ON instrument_tags.tag_id = tags.id").
		Where("instrument_tags.instrument_id = ? AND tags.kind = ?", instID, kind).
		Pluck("tags.name", &out).Error
	if err != nil {
		t.Fatalf("load tags: %v", err)
	}
	sort.Strings(out)
	return out
}

func TestRecomputeIsIdempotentAndKeepsCurated(t *testing.T) {
	ctx := context.Background()
	db, inst, _ := seed(t)
	e := NewEngine(db, nil)

	first, err := e.Recompute(ctx, nil, inst)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	firstSet := assignedTags(t, db, inst.ID, models.TagKindDerived)

	second, err := e.Recompute(ctx, nil, inst)
	if err != nil {
		t.Fatalf("Recompute again: %v", err)
	}
	secondSet := assignedTags(t, db, inst.ID, models.TagKindDerived)

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("returned tags %v then %v", first, second)
	}
	if len(firstSet) != len(secondSet) {
		t.Fatalf("derived set changed: %v -> %v", firstSet, secondSet)
	}
	for i := range firstSet {
		if firstSet[i] != secondSet[i] {
			t.Fatalf("derived set changed: %v -> %v", firstSet, secondSet)
		}
	}

	curated := assignedTags(t, db, inst.ID, models.TagKindCurated)
	if len(curated) != 1 || curated[0] != "dow_30" {
		t.Fatalf("curated tags = %v", curated)
	}

	var tagRows int64
	db.Model(&models.Tag{}).Where("kind = ?", models.TagKindDerived).Count(&tagRows)
	if tagRows != 3 {
		t.Fatalf("derived tag rows = %d, want 3", tagRows)
	}
}

func TestRecomputeReplacesStaleTags(t *testing.T) {
	ctx := context.Background()
	db, inst, _ := seed(t)
	e := NewEngine(db, nil)

	if _, err := e.Recompute(ctx, nil, inst); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	inst.ChangePercent = nd("-6")
	inst.PETTM = decimal.NullDecimal{}
	if _, err := e.Recompute(ctx, nil, inst); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	got := assignedTags(t, db, inst.ID, models.TagKindDerived)
	want := []string{"mega_cap", "plunging"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("derived tags = %v, want %v", got, want)
	}
}

func TestRecomputeInCallerTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db, inst, _ := seed(t)
	e := NewEngine(db, nil)

	if _, err := e.Recompute(ctx, nil, inst); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	before := assignedTags(t, db, inst.ID, models.TagKindDerived)

	inst.MarketCap = nd("500")
	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := e.Recompute(ctx, tx, inst); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transaction err = %v", err)
	}

	after := assignedTags(t, db, inst.ID, models.TagKindDerived)
	if len(before) != len(after) {
		t.Fatalf("rolled back recompute leaked: %v -> %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("rolled back recompute leaked: %v -> %v", before, after)
		}
	}

	// the small_cap row was created in the rolled back tx; a new recompute must recreate it
	if _, err := e.Recompute(ctx, nil, inst); err != nil {
		t.Fatalf("Recompute after rollback: %v", err)
	}
	got := assignedTags(t, db, inst.ID, models.TagKindDerived)
	want := []string{"small_cap", "surging", "value"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("derived tags after rollback = %v, want %v", got, want)
	}
}

func TestRecomputeRefusesCuratedName(t *testing.T) {
	ctx := context.Background()
	db, inst, _ := seed(t)
	if err := db.Create(&models.Tag{Name: "mega_cap", Kind: models.TagKindCurated}).Error; err != nil {
		t.Fatalf("create tag: %v", err)
	}

	if _, err := NewEngine(db, nil).Recompute(ctx, nil, inst); !errors.Is(err, ErrCuratedName) {
		t.Fatalf("Recompute err = %v, want ErrCuratedName", err)
	}
}

func TestRecomputeRequiresID(t *testing.T) {
	db := storetest.Open(t)
	if _, err := NewEngine(db, nil).Recompute(context.Background(), nil, models.Instrument{Symbol: "X"}); err == nil {
		t.Fatalf("expected error for unsaved instrument")
	}
}
