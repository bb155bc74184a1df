package perspective

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/criteria"
)

// RawRule is a rule record as delivered by the perspective source.
// scale_factor arrives as a 0-100 percentage.
type RawRule struct {
	ApplyTo              string          `json:"apply_to" db:"apply_to"`
	Criteria             json.RawMessage `json:"criteria" db:"criteria"`
	ConditionForNextRule string          `json:"condition_for_next_rule" db:"condition_for_next_rule"`
	IsScalingRule        bool            `json:"is_scaling_rule" db:"is_scaling_rule"`
	ScaleFactor          *float64        `json:"scale_factor" db:"scale_factor"`
}

// RawPerspective is a perspective record as delivered by the perspective source.
type RawPerspective struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	IsSupported bool      `json:"is_supported"`
	Rules       []RawRule `json:"rules"`
}

// buildPerspective parses one raw record. Criteria may embed a
// required_columns hint; the hint is recorded on the perspective and stripped
// from the criteria actually evaluated.
func buildPerspective(raw RawPerspective) (Perspective, error) {
	p := Perspective{
		ID:              raw.ID,
		Name:            raw.Name,
		Active:          raw.IsActive,
		Supported:       raw.IsSupported,
		RequiredColumns: make(map[string][]string),
	}
	for i, rr := range raw.Rules {
		rule, hint, err := buildRule(rr)
		if err != nil {
			return Perspective{}, fmt.Errorf("perspective %d rule %d: %w", raw.ID, i, err)
		}
		mergeColumns(p.RequiredColumns, hint)
		p.Rules = append(p.Rules, rule)
	}
	return p, nil
}

func buildRule(rr RawRule) (Rule, map[string][]string, error) {
	applyTo, err := ParseApplyTo(rr.ApplyTo)
	if err != nil {
		return Rule{}, nil, err
	}
	chain, err := ParseChainOp(rr.ConditionForNextRule)
	if err != nil {
		return Rule{}, nil, err
	}
	critJSON, hint, err := extractColumnHint(rr.Criteria)
	if err != nil {
		return Rule{}, nil, err
	}
	node, err := criteria.Parse(critJSON)
	if err != nil {
		return Rule{}, nil, fmt.Errorf("criteria: %w", err)
	}
	rule := Rule{
		ApplyTo:     applyTo,
		Criteria:    node,
		ChainNext:   chain,
		Scaling:     rr.IsScalingRule,
		ScaleFactor: 1.0,
	}
	if rr.IsScalingRule {
		if rr.ScaleFactor == nil {
			return Rule{}, nil, fmt.Errorf("scaling rule is missing scale_factor")
		}
		rule.ScaleFactor = *rr.ScaleFactor / 100.0
	} else if rr.ScaleFactor != nil {
		rule.ScaleFactor = *rr.ScaleFactor / 100.0
	}
	return rule, hint, nil
}

// extractColumnHint pops a top-level required_columns key out of raw rule
// criteria. Returns the remaining criteria JSON (nil if nothing remains) and
// the hint, if any.
func extractColumnHint(raw json.RawMessage) (json.RawMessage, map[string][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, fmt.Errorf("criteria is not an object: %w", err)
	}
	hintRaw, ok := obj["required_columns"]
	if !ok {
		return raw, nil, nil
	}
	var hint map[string][]string
	if err := json.Unmarshal(hintRaw, &hint); err != nil {
		return nil, nil, fmt.Errorf("required_columns hint: %w", err)
	}
	delete(obj, "required_columns")
	if len(obj) == 0 {
		return nil, hint, nil
	}
	rest, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return rest, hint, nil
}

func mergeColumns(dst map[string][]string, src map[string][]string) {
	for table, cols := range src {
		existing := dst[table]
		for _, c := range cols {
			if !containsString(existing, c) {
				existing = append(existing, c)
			}
		}
		dst[table] = existing
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewConfig builds the process-scoped configuration from loaded perspective
// records and the built-in modifier table, optionally extended with extra
// modifiers. Inactive and unsupported perspectives are dropped here.
func NewConfig(raws []RawPerspective, extra ...Modifier) (*Config, error) {
	cfg := &Config{
		perspectives: make(map[int]Perspective),
		modifiers:    make(map[string]Modifier),
		defaults:     append([]string(nil), defaultModifiers...),
	}
	for _, m := range builtinModifiers() {
		cfg.modifiers[m.Name] = m
	}
	for _, m := range extra {
		cfg.modifiers[m.Name] = m
	}
	for _, raw := range raws {
		if !raw.IsActive || !raw.IsSupported {
			log.Debug().Int("perspective_id", raw.ID).Str("name", raw.Name).
				Msg("dropping inactive or unsupported perspective")
			continue
		}
		p, err := buildPerspective(raw)
		if err != nil {
			return nil, err
		}
		cfg.perspectives[p.ID] = p
	}
	return cfg, nil
}
