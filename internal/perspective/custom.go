package perspective

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fundlens/perspective/internal/criteria"
)

// ErrInvalidRequest marks request-input errors: surfaces as a client error
// rather than a server fault.
var ErrInvalidRequest = errors.New("invalid request")

// rawCustomRule mirrors the request wire form of a custom perspective rule.
// Pointers distinguish absent fields from zero values so validation can
// reject incomplete rules outright.
type rawCustomRule struct {
	ApplyTo              *string          `json:"apply_to"`
	Criteria             *json.RawMessage `json:"criteria"`
	ConditionForNextRule string           `json:"condition_for_next_rule"`
	IsScalingRule        bool             `json:"is_scaling_rule"`
	ScaleFactor          *float64         `json:"scale_factor"`
}

type rawCustom struct {
	Name  string          `json:"name"`
	Rules []rawCustomRule `json:"rules"`
}

// ParseCustoms validates and builds the ad-hoc perspectives a request may
// carry under custom_perspective_rules. Ids must be negative integers so they
// can never collide with persisted perspectives; every rule must name its
// criteria and apply_to, and scaling rules their scale_factor. All failures
// wrap ErrInvalidRequest and abort before any data scan.
func ParseCustoms(raw map[string]json.RawMessage) (map[int]Perspective, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[int]Perspective, len(raw))
	for idStr, body := range raw {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: custom perspective id %q is not an integer", ErrInvalidRequest, idStr)
		}
		if id >= 0 {
			return nil, fmt.Errorf("%w: custom perspective id %d must be negative", ErrInvalidRequest, id)
		}
		var rc rawCustom
		if err := json.Unmarshal(body, &rc); err != nil {
			return nil, fmt.Errorf("%w: custom perspective %d: %v", ErrInvalidRequest, id, err)
		}
		if len(rc.Rules) == 0 {
			return nil, fmt.Errorf("%w: custom perspective %d has no rules", ErrInvalidRequest, id)
		}
		p := Perspective{
			ID:              id,
			Name:            rc.Name,
			Active:          true,
			Supported:       true,
			RequiredColumns: make(map[string][]string),
		}
		if p.Name == "" {
			p.Name = "custom_" + idStr
		}
		for i, rr := range rc.Rules {
			rule, err := buildCustomRule(rr)
			if err != nil {
				return nil, fmt.Errorf("%w: custom perspective %d rule %d: %v", ErrInvalidRequest, id, i, err)
			}
			p.Rules = append(p.Rules, rule)
		}
		out[id] = p
	}
	return out, nil
}

func buildCustomRule(rr rawCustomRule) (Rule, error) {
	if rr.ApplyTo == nil {
		return Rule{}, fmt.Errorf("missing apply_to")
	}
	if rr.Criteria == nil {
		return Rule{}, fmt.Errorf("missing criteria")
	}
	applyTo, err := ParseApplyTo(*rr.ApplyTo)
	if err != nil {
		return Rule{}, err
	}
	chain, err := ParseChainOp(rr.ConditionForNextRule)
	if err != nil {
		return Rule{}, err
	}
	node, err := criteria.Parse(*rr.Criteria)
	if err != nil {
		return Rule{}, fmt.Errorf("criteria: %v", err)
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
			return Rule{}, fmt.Errorf("scaling rule is missing scale_factor")
		}
		rule.ScaleFactor = *rr.ScaleFactor / 100.0
	}
	return rule, nil
}
