package perspective

import "github.com/fundlens/perspective/internal/criteria"

// Names of the scaling-flag modifiers the processor keys rescaling off.
const (
	ScaleHoldings     = "scale_holdings_to_100_percent"
	ScaleLookthroughs = "scale_lookthroughs_to_100_percent"
)

// defaultModifiers are always active unless overridden by another active
// modifier.
var defaultModifiers = []string{"exclude_other_perspective_rows"}

// builtinModifiers is the fixed in-process modifier table. Modifiers whose
// criteria reference columns the request cannot guarantee declare them under
// RequiredColumns so the engine fetches and joins them first; the default
// modifier only touches perspective_id, which ingestion always provides.
func builtinModifiers() []Modifier {
	return []Modifier{
		{
			// Rows tagged for a specific perspective drop out of every other
			// perspective's view. Untagged rows carry the sentinel and pass.
			Name:    "exclude_other_perspective_rows",
			ApplyTo: ApplyBoth,
			Type:    PreProcessing,
			Criteria: criteria.NewAnd(
				criteria.Leaf("perspective_id", "IsNotNull", nil),
				criteria.Leaf("perspective_id", "!=", "perspective_id"),
			),
		},
		{
			Name:            "exclude_simulated_positions",
			ApplyTo:         ApplyBoth,
			Type:            PreProcessing,
			Criteria:        criteria.Leaf("origin_type_id", "==", 9.0),
			RequiredColumns: map[string][]string{"INSTRUMENT": {"origin_type_id"}},
		},
		{
			Name:               "include_simulated_positions",
			ApplyTo:            ApplyBoth,
			Type:               PostProcessing,
			RuleResultOperator: "and",
			Overrides:          []string{"exclude_simulated_positions"},
		},
		{
			Name:     "exclude_benchmark_positions",
			ApplyTo:  ApplyPosition,
			Type:     PreProcessing,
			Criteria: criteria.Leaf("position_type", "==", "benchmark"),
		},
		{
			Name:            "exclude_non_investable_instruments",
			ApplyTo:         ApplyBoth,
			Type:            PreProcessing,
			Criteria:        criteria.Leaf("is_investable_id", "!=", 1.0),
			RequiredColumns: map[string][]string{"INSTRUMENT": {"is_investable_id"}},
		},
		{
			Name:            "exclude_matured_instruments",
			ApplyTo:         ApplyBoth,
			Type:            PreProcessing,
			Criteria:        criteria.Leaf("maturity_status_id", "==", 2.0),
			RequiredColumns: map[string][]string{"INSTRUMENT": {"maturity_status_id"}},
		},
		{
			Name:               "keep_cash_positions",
			ApplyTo:            ApplyPosition,
			Type:               PostProcessing,
			RuleResultOperator: "or",
			Criteria:           criteria.Leaf("position_type", "==", "cash"),
		},
		{
			Name:    ScaleHoldings,
			ApplyTo: ApplyPosition,
			Type:    Scaling,
		},
		{
			Name:    ScaleLookthroughs,
			ApplyTo: ApplyLookthrough,
			Type:    Scaling,
		},
	}
}
