// Package perspective holds the perspective/rule/modifier model and the
// immutable configuration object the processor and formatter read from.
package perspective

import (
	"fmt"
	"strings"

	"github.com/fundlens/perspective/internal/criteria"
)

// Mode is the relation a rule application runs against.
type Mode int

const (
	ModePosition Mode = iota
	ModeLookthrough
)

func (m Mode) String() string {
	if m == ModeLookthrough {
		return "lookthrough"
	}
	return "position"
}

// ApplyTo scopes a rule or modifier to positions, lookthroughs or both.
type ApplyTo int

const (
	ApplyBoth ApplyTo = iota
	ApplyPosition
	ApplyLookthrough
)

// Covers reports whether the scope includes the given mode.
func (a ApplyTo) Covers(m Mode) bool {
	switch a {
	case ApplyBoth:
		return true
	case ApplyPosition:
		return m == ModePosition
	default:
		return m == ModeLookthrough
	}
}

// ParseApplyTo decodes the wire form ("Position", "Lookthrough", "Both").
func ParseApplyTo(s string) (ApplyTo, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "position":
		return ApplyPosition, nil
	case "lookthrough":
		return ApplyLookthrough, nil
	case "both", "":
		return ApplyBoth, nil
	default:
		return ApplyBoth, fmt.Errorf("unknown apply_to %q", s)
	}
}

// ChainOp tells how a rule combines with the NEXT rule in sequence.
type ChainOp int

const (
	ChainNone ChainOp = iota
	ChainAnd
	ChainOr
)

// ParseChainOp decodes the wire form ("And", "Or", "None").
func ParseChainOp(s string) (ChainOp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "and":
		return ChainAnd, nil
	case "or":
		return ChainOr, nil
	case "none", "":
		return ChainNone, nil
	default:
		return ChainNone, fmt.Errorf("unknown condition_for_next_rule %q", s)
	}
}

// Rule is one ordered step of a perspective: either a filter contribution or
// a conditional scaling step.
type Rule struct {
	ApplyTo     ApplyTo
	Criteria    *criteria.Node // nil for pure scaling rules
	ChainNext   ChainOp
	Scaling     bool
	ScaleFactor float64 // multiplier, already divided down from the stored percentage
}

// Perspective is a named, ordered set of rules defining one view of the data.
type Perspective struct {
	ID        int
	Name      string
	Active    bool
	Supported bool
	Rules     []Rule

	// RequiredColumns carries reference-column hints extracted from the raw
	// rule criteria at load time.
	RequiredColumns map[string][]string
}

// FilterRules returns the non-scaling rules covering the mode, in order.
func (p Perspective) FilterRules(m Mode) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if !r.Scaling && r.ApplyTo.Covers(m) {
			out = append(out, r)
		}
	}
	return out
}

// ScalingRules returns the scaling rules covering the mode, in order.
func (p Perspective) ScalingRules(m Mode) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Scaling && r.ApplyTo.Covers(m) {
			out = append(out, r)
		}
	}
	return out
}

// ModifierType distinguishes the three modifier families.
type ModifierType int

const (
	// PreProcessing modifiers name rows to remove before rule evaluation.
	PreProcessing ModifierType = iota
	// PostProcessing modifiers restrict ("and") or rescue ("or") rows after
	// rule evaluation.
	PostProcessing
	// Scaling modifiers flag factor rescaling; they carry no criteria.
	Scaling
)

// Modifier is a reusable criteria block layered on top of perspective rules.
type Modifier struct {
	Name     string
	ApplyTo  ApplyTo
	Type     ModifierType
	Criteria *criteria.Node

	// RuleResultOperator ("and"/"or") applies to PostProcessing modifiers
	// only; "or" makes the modifier a savior.
	RuleResultOperator string

	// RequiredColumns lists reference-table columns the criteria needs,
	// keyed by table name.
	RequiredColumns map[string][]string

	// Overrides names modifiers suppressed whenever this one is active.
	Overrides []string
}

// Savior reports whether a post modifier rescues rows instead of further
// restricting them.
func (m Modifier) Savior() bool {
	return m.Type == PostProcessing && strings.EqualFold(m.RuleResultOperator, "or")
}
