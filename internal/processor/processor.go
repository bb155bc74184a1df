// Package processor builds the per-perspective keep/scale plan: one factor
// column per (configuration, perspective) pair on each relation, lookthrough
// factors synchronized to their parents, and 100%-rescaling where the active
// modifiers ask for it. Everything is queued on a single plan and collected
// once.
package processor

import (
	"fmt"
	"sort"

	"github.com/fundlens/perspective/internal/criteria"
	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/perspective"
)

// Pair is one requested (configuration, perspective) application together
// with its resolved modifiers and factor column.
type Pair struct {
	Config        string
	PerspectiveID int
	Modifiers     []perspective.Modifier
	FactorColumn  string
}

// HasModifier reports whether a named modifier survived override resolution.
func (p Pair) HasModifier(name string) bool {
	for _, m := range p.Modifiers {
		if m.Name == name {
			return true
		}
	}
	return false
}

// FactorColumn names the factor column for one pair. The reserved prefix
// keeps it clear of request-supplied columns.
func FactorColumn(config string, perspectiveID int) string {
	return fmt.Sprintf("__factor|%s|%d", config, perspectiveID)
}

// Builder assembles the lazy plan for one request.
type Builder struct {
	cfg       *perspective.Config
	pre       *criteria.Precomputed
	posWeight string
	ltWeight  string
}

// NewBuilder wires a plan builder. posWeight/ltWeight are the primary weight
// labels used for rescale denominators.
func NewBuilder(cfg *perspective.Config, pre *criteria.Precomputed, posWeight, ltWeight string) *Builder {
	return &Builder{cfg: cfg, pre: pre, posWeight: posWeight, ltWeight: ltWeight}
}

// Build queues factor columns for every requested pair, then the lookthrough
// synchronization and rescale steps, onto the plan. configurations maps
// configuration name to perspective id to requested modifier names.
func (b *Builder) Build(plan *frame.Plan, configurations map[string]map[int][]string) ([]Pair, error) {
	var pairs []Pair
	for _, config := range sortedStringKeys(configurations) {
		perspectives := configurations[config]
		ids := make([]int, 0, len(perspectives))
		for id := range perspectives {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			p, ok := b.cfg.Perspective(id)
			if !ok {
				return nil, fmt.Errorf("unknown perspective id %d in configuration %q", id, config)
			}
			active, err := b.cfg.ActiveModifiers(perspectives[id])
			if err != nil {
				return nil, fmt.Errorf("configuration %q perspective %d: %w", config, id, err)
			}
			pair := Pair{
				Config:        config,
				PerspectiveID: id,
				Modifiers:     active,
				FactorColumn:  FactorColumn(config, id),
			}
			if err := b.queueFactor(plan, frame.Positions, p, pair, perspective.ModePosition); err != nil {
				return nil, err
			}
			if plan.Lookthroughs() != nil {
				if err := b.queueFactor(plan, frame.Lookthroughs, p, pair, perspective.ModeLookthrough); err != nil {
					return nil, err
				}
			}
			pairs = append(pairs, pair)
		}
	}

	plan.Then(syncStep(pairs))
	for _, pair := range pairs {
		if pair.HasModifier(perspective.ScaleHoldings) {
			plan.Then(rescalePositionsStep(pair.FactorColumn, b.posWeight))
		}
		if pair.HasModifier(perspective.ScaleLookthroughs) {
			plan.Then(rescaleLookthroughsStep(pair.FactorColumn, b.ltWeight))
		}
	}
	return pairs, nil
}

func (b *Builder) queueFactor(plan *frame.Plan, target frame.Target, p perspective.Perspective, pair Pair, mode perspective.Mode) error {
	keep, err := b.keepExpr(p, pair.Modifiers, mode)
	if err != nil {
		return fmt.Errorf("configuration %q perspective %d %s keep: %w", pair.Config, p.ID, mode, err)
	}
	scale, err := b.scaleExpr(p, mode)
	if err != nil {
		return fmt.Errorf("configuration %q perspective %d %s scale: %w", pair.Config, p.ID, mode, err)
	}
	plan.AddColumn(target, pair.FactorColumn, frame.When(keep, scale, frame.LitNull()))
	return nil
}

// keepExpr builds the inclusion predicate for one mode: every applicable
// PreProcessing modifier negated, then the rule chain (each rule combining
// with the running result using the PREVIOUS rule's connector), then every
// applicable PostProcessing modifier and-ed in, or or-ed in for saviors.
func (b *Builder) keepExpr(p perspective.Perspective, mods []perspective.Modifier, mode perspective.Mode) (frame.Expr, error) {
	parts := []frame.Expr{}
	for _, m := range mods {
		if m.Type != perspective.PreProcessing || !m.ApplyTo.Covers(mode) || m.Criteria == nil {
			continue
		}
		c, err := criteria.Compile(m.Criteria, p.ID, b.pre)
		if err != nil {
			return nil, fmt.Errorf("modifier %q: %w", m.Name, err)
		}
		parts = append(parts, frame.Not(c))
	}

	var chain frame.Expr
	prev := perspective.ChainNone
	for i, r := range p.FilterRules(mode) {
		c, err := criteria.Compile(r.Criteria, p.ID, b.pre)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		switch {
		case chain == nil:
			chain = c
		case prev == perspective.ChainOr:
			chain = frame.Or(chain, c)
		default:
			chain = frame.And(chain, c)
		}
		prev = r.ChainNext
	}
	if chain == nil {
		// No applicable rules: the perspective alone excludes nothing.
		chain = frame.LitBool(true)
	}
	keep := frame.And(append(parts, chain)...)

	for _, m := range mods {
		if m.Type != perspective.PostProcessing || !m.ApplyTo.Covers(mode) || m.Criteria == nil {
			continue
		}
		c, err := criteria.Compile(m.Criteria, p.ID, b.pre)
		if err != nil {
			return nil, fmt.Errorf("modifier %q: %w", m.Name, err)
		}
		if m.Savior() {
			keep = frame.Or(keep, c)
		} else {
			keep = frame.And(keep, c)
		}
	}
	return keep, nil
}

// scaleExpr builds the cumulative multiplier: every applicable scaling rule
// multiplies the running value where its own criteria match, leaving other
// rows' running value untouched.
func (b *Builder) scaleExpr(p perspective.Perspective, mode perspective.Mode) (frame.Expr, error) {
	scale := frame.Expr(frame.LitFloat(1.0))
	for i, r := range p.ScalingRules(mode) {
		cond, err := criteria.Compile(r.Criteria, p.ID, b.pre)
		if err != nil {
			return nil, fmt.Errorf("scaling rule %d: %w", i, err)
		}
		scale = frame.When(cond, frame.Mul(scale, frame.LitFloat(r.ScaleFactor)), scale)
	}
	return scale, nil
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
