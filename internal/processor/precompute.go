package processor

import (
	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/criteria"
	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/perspective"
)

// Precompute runs the value-discovery pass: it scans the criteria of every
// requested perspective and its active modifiers for nested-membership specs
// and materializes each spec's distinct-value set from the request data.
// This must happen before the main filter build because the nested set
// depends on the same dataset being filtered.
func Precompute(cfg *perspective.Config, configurations map[string]map[int][]string, pos, lt *frame.Frame) (*criteria.Precomputed, error) {
	var nodes []*criteria.Node
	seenMod := make(map[string]struct{})
	for _, perspectives := range configurations {
		for id, modNames := range perspectives {
			if p, ok := cfg.Perspective(id); ok {
				for _, r := range p.Rules {
					nodes = append(nodes, r.Criteria)
				}
			}
			active, err := cfg.ActiveModifiers(modNames)
			if err != nil {
				return nil, err
			}
			for _, m := range active {
				if _, dup := seenMod[m.Name]; dup {
					continue
				}
				seenMod[m.Name] = struct{}{}
				nodes = append(nodes, m.Criteria)
			}
		}
	}

	pre := criteria.NewPrecomputed()
	for _, spec := range criteria.CollectNested(nodes...) {
		set := frame.NewSet()
		for _, f := range []*frame.Frame{pos, lt} {
			if f == nil || !f.Has(spec.Column) {
				continue
			}
			if err := discover(f, spec, set); err != nil {
				return nil, err
			}
		}
		log.Debug().Str("column", spec.Column).Int("values", set.Size()).
			Msg("precomputed nested membership set")
		pre.Add(spec.Key, set)
	}
	return pre, nil
}

// discover adds the distinct values of spec.Column over the rows matching the
// spec's inner criteria. Inner criteria compile without perspective context:
// nested specs are shared across perspectives by cache key, so a
// perspective_id token inside one would be ambiguous.
func discover(f *frame.Frame, spec criteria.NestedSpec, set *frame.Set) error {
	mask, err := compileMask(f, spec.Criteria)
	if err != nil {
		return err
	}
	col := f.Column(spec.Column)
	for i := 0; i < f.NumRows(); i++ {
		if mask != nil && !(mask.IsValid(i) && mask.Bool(i)) {
			continue
		}
		if !col.IsValid(i) || col.IsSentinel(i) {
			continue
		}
		if col.IsNumeric() {
			set.AddFloat(col.Float(i))
		} else {
			set.AddString(col.Str(i))
		}
	}
	return nil
}

func compileMask(f *frame.Frame, node *criteria.Node) (*frame.Series, error) {
	if node == nil {
		return nil, nil
	}
	expr, err := criteria.Compile(node, 0, nil)
	if err != nil {
		return nil, err
	}
	return expr.Eval(f)
}
