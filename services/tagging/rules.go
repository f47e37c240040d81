package tagging

import (
	"github.com/shopspring/decimal"

	"market_etl_backend/models"
)

// TagDef is a derived tag a rule can assign
type TagDef struct {
	Name     string
	Label    string
	Category string
}

// Rule assigns at most one tag from a single attribute. Rules never read
// each other's output.
type Rule struct {
	Category string
	Evaluate func(inst models.Instrument) (TagDef, bool)
}

type bucket struct {
	name  string
	label string
	match func(v decimal.Decimal) bool
}

func atLeast(n string) func(decimal.Decimal) bool {
	t := decimal.RequireFromString(n)
	return func(v decimal.Decimal) bool { return v.GreaterThanOrEqual(t) }
}

func below(n string) func(decimal.Decimal) bool {
	t := decimal.RequireFromString(n)
	return func(v decimal.Decimal) bool { return v.LessThan(t) }
}

func atMost(n string) func(decimal.Decimal) bool {
	t := decimal.RequireFromString(n)
	return func(v decimal.Decimal) bool { return v.LessThanOrEqual(t) }
}

func above(n string) func(decimal.Decimal) bool {
	t := decimal.RequireFromString(n)
	return func(v decimal.Decimal) bool { return v.GreaterThan(t) }
}

// bucketRule evaluates buckets in order and takes the first match
func bucketRule(category string, field func(models.Instrument) decimal.NullDecimal, buckets ...bucket) Rule {
	return Rule{
		Category: category,
		Evaluate: func(inst models.Instrument) (TagDef, bool) {
			v := field(inst)
			if !v.Valid {
				return TagDef{}, false
			}
			for _, b := range buckets {
				if b.match(v.Decimal) {
					return TagDef{Name: b.name, Label: b.label, Category: category}, true
				}
			}
			return TagDef{}, false
		},
	}
}

// DefaultRules returns the built-in rule set in evaluation order.
// Market cap thresholds are in millions.
func DefaultRules() []Rule {
	return []Rule{
		bucketRule("market_cap",
			func(i models.Instrument) decimal.NullDecimal { return i.MarketCap },
			bucket{"mega_cap", "Mega Cap", atLeast("200000")},
			bucket{"large_cap", "Large Cap", atLeast("10000")},
			bucket{"mid_cap", "Mid Cap", atLeast("2000")},
			bucket{"small_cap", "Small Cap", atLeast("300")},
			bucket{"micro_cap", "Micro Cap", above("0")},
		),
		bucketRule("valuation",
			func(i models.Instrument) decimal.NullDecimal { return i.PETTM },
			// Loss-making companies have no meaningful P/E
			bucket{"", "", atMost("0")},
			bucket{"deep_value", "Deep Value", below("10")},
			bucket{"value", "Value", below("15")},
			bucket{"fair_value", "Fair Value", atMost("25")},
			bucket{"growth", "Growth", atMost("50")},
			bucket{"premium", "Premium Valuation", above("50")},
		),
		bucketRule("profitability",
			func(i models.Instrument) decimal.NullDecimal { return i.ROETTM },
			bucket{"high_roe", "High ROE", atLeast("20")},
			bucket{"solid_roe", "Solid ROE", atLeast("10")},
			bucket{"low_roe", "Low ROE", atLeast("0")},
			bucket{"negative_roe", "Negative ROE", below("0")},
		),
		bucketRule("leverage",
			func(i models.Instrument) decimal.NullDecimal { return i.DebtToEquity },
			// Negative D/E means negative equity
			bucket{"high_leverage", "High Leverage", below("0")},
			bucket{"low_leverage", "Low Leverage", below("0.5")},
			bucket{"moderate_leverage", "Moderate Leverage", atMost("2")},
			bucket{"high_leverage", "High Leverage", above("2")},
		),
		bucketRule("liquidity",
			func(i models.Instrument) decimal.NullDecimal { return i.CurrentRatio },
			bucket{"strong_liquidity", "Strong Liquidity", atLeast("2")},
			bucket{"adequate_liquidity", "Adequate Liquidity", atLeast("1")},
			bucket{"weak_liquidity", "Weak Liquidity", below("1")},
		),
		bucketRule("performance",
			func(i models.Instrument) decimal.NullDecimal { return i.ChangePercent },
			bucket{"surging", "Surging", atLeast("5")},
			bucket{"gaining", "Gaining", atLeast("2")},
			bucket{"plunging", "Plunging", atMost("-5")},
			bucket{"losing", "Losing", atMost("-2")},
		),
	}
}

// Evaluate runs rules against inst and returns the matched tags in rule order
func Evaluate(rules []Rule, inst models.Instrument) []TagDef {
	var out []TagDef
	for _, r := range rules {
		def, ok := r.Evaluate(inst)
		if !ok || def.Name == "" {
			continue
		}
		out = append(out, def)
	}
	return out
}
