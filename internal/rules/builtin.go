package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Thresholds configures the built-in rules. Zero values fall back to the defaults.
type Thresholds struct {
	Tolerance        float64
	AmountThreshold  float64
	RoundNumberFloor float64
	MaxQuantity      float64
}

// DefaultThresholds returns the default built-in rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Tolerance:        DefaultTolerance,
		AmountThreshold:  DefaultAmountThreshold,
		RoundNumberFloor: DefaultRoundNumberFloor,
		MaxQuantity:      DefaultMaxQuantity,
	}
}

// ThresholdsFromConfig reads the thresholds from engine configuration.
func ThresholdsFromConfig(cfg domain.EngineConfig) Thresholds {
	return Thresholds{
		Tolerance:        cfg.Tolerance,
		AmountThreshold:  cfg.AmountThreshold,
		RoundNumberFloor: cfg.RoundNumberFloor,
		MaxQuantity:      cfg.MaxQuantity,
	}
}

// DefaultRules returns the built-in rules in evaluation order:
// arithmetic, format, business, anomaly.
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		// Arithmetic consistency
		NewLineItemsSumRule(t.Tolerance),
		NewSubtotalTaxTotalRule(t.Tolerance),
		NewLineItemMathRule(t.Tolerance),
		NewTaxPercentageRule(t.Tolerance),

		// Format plausibility
		NewDateFormatRule(),
		NewCurrencyCodeRule(),
		NewTaxIDFormatRule(),
		NewCardLastFourRule(),

		// Business-logic completeness
		NewRequiredFieldsRule(),
		NewDueDateRule(),
		NewNegativeAmountsRule(),
		NewAmountThresholdRule(t.AmountThreshold),
		NewLineItemsNotEmptyRule(),

		// Statistical anomaly
		NewRoundNumberRule(t.RoundNumberFloor),
		NewDuplicateLineItemsRule(),
		NewExtremeQuantityRule(t.MaxQuantity),
	}
}
