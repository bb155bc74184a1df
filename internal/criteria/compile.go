package criteria

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/frame"
)

// Precomputed holds membership sets for nested In/NotIn criteria, keyed by
// the canonical JSON of the nested spec. The engine populates it in a
// value-discovery pass before the main filter build, because the nested set
// depends on the same dataset being filtered.
type Precomputed struct {
	sets map[string]*frame.Set
}

// NewPrecomputed returns an empty table.
func NewPrecomputed() *Precomputed {
	return &Precomputed{sets: make(map[string]*frame.Set)}
}

// Add registers the membership set for a nested-spec key.
func (p *Precomputed) Add(key string, set *frame.Set) {
	p.sets[key] = set
}

// lookup returns the set for a key, or nil.
func (p *Precomputed) lookup(key string) *frame.Set {
	if p == nil {
		return nil
	}
	return p.sets[key]
}

// NestedSpec describes one nested-membership leaf found in a tree: the column
// whose distinct values form the set, an optional inner filter, and the cache
// key the compiled expression will look up.
type NestedSpec struct {
	Key      string
	Column   string
	Criteria *Node
}

// CollectNested finds every In/NotIn leaf whose value is a nested spec.
func CollectNested(nodes ...*Node) []NestedSpec {
	var specs []NestedSpec
	seen := make(map[string]struct{})
	for _, n := range nodes {
		n.Walk(func(node *Node) {
			if node.Kind != KindLeaf || (node.Operator != "In" && node.Operator != "NotIn") {
				return
			}
			spec, ok := nestedSpec(node.Value)
			if !ok {
				return
			}
			if _, dup := seen[spec.Key]; dup {
				return
			}
			seen[spec.Key] = struct{}{}
			specs = append(specs, spec)
		})
	}
	return specs
}

// nestedSpec decodes a map-shaped In value. json.Marshal sorts map keys, so
// the marshalled form doubles as the canonical cache key.
func nestedSpec(value any) (NestedSpec, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return NestedSpec{}, false
	}
	colRaw, ok := m["column"]
	if !ok {
		return NestedSpec{}, false
	}
	column, ok := colRaw.(string)
	if !ok {
		return NestedSpec{}, false
	}
	key, err := json.Marshal(m)
	if err != nil {
		return NestedSpec{}, false
	}
	spec := NestedSpec{Key: string(key), Column: column}
	if rawCrit, ok := m["criteria"]; ok {
		critJSON, err := json.Marshal(rawCrit)
		if err == nil {
			if node, err := Parse(critJSON); err == nil {
				spec.Criteria = node
			}
		}
	}
	return spec, true
}

// Compile turns a criteria tree into a boolean frame expression for the given
// perspective. A nil tree is always true.
func Compile(n *Node, perspectiveID int, pre *Precomputed) (frame.Expr, error) {
	if n == nil {
		return frame.LitBool(true), nil
	}
	switch n.Kind {
	case KindAnd, KindOr:
		children := make([]frame.Expr, 0, len(n.Children))
		for _, c := range n.Children {
			e, err := Compile(c, perspectiveID, pre)
			if err != nil {
				return nil, err
			}
			children = append(children, e)
		}
		if n.Kind == KindAnd {
			return frame.And(children...), nil
		}
		return frame.Or(children...), nil
	case KindNot:
		if len(n.Children) != 1 {
			return nil, fmt.Errorf("not combinator needs exactly one child, got %d", len(n.Children))
		}
		inner, err := Compile(n.Children[0], perspectiveID, pre)
		if err != nil {
			return nil, err
		}
		return frame.Not(inner), nil
	case KindLeaf:
		return compileLeaf(n, perspectiveID, pre)
	default:
		return nil, fmt.Errorf("unknown criteria node kind %d", n.Kind)
	}
}

func compileLeaf(n *Node, perspectiveID int, pre *Precomputed) (frame.Expr, error) {
	value := substitutePerspectiveID(n.Value, perspectiveID)
	col := frame.Col(n.Column)

	switch n.Operator {
	case "=", "==":
		return frame.Compare(frame.CmpEq, col, scalarLit(value)), nil
	case "!=":
		return frame.Compare(frame.CmpNe, col, scalarLit(value)), nil
	case ">":
		return frame.Compare(frame.CmpGt, col, scalarLit(value)), nil
	case "<":
		return frame.Compare(frame.CmpLt, col, scalarLit(value)), nil
	case ">=":
		return frame.Compare(frame.CmpGe, col, scalarLit(value)), nil
	case "<=":
		return frame.Compare(frame.CmpLe, col, scalarLit(value)), nil
	case "In", "NotIn":
		expr, err := compileMembership(n, value, pre)
		if err != nil {
			return nil, err
		}
		if n.Operator == "NotIn" {
			// A fail-open nested lookup must stay always-true even negated.
			if _, open := expr.(alwaysTrue); open {
				return frame.LitBool(true), nil
			}
			return frame.Not(expr), nil
		}
		if at, open := expr.(alwaysTrue); open {
			return at.inner, nil
		}
		return expr, nil
	case "IsNull":
		return frame.IsNull(col), nil
	case "IsNotNull":
		return frame.Not(frame.IsNull(col)), nil
	case "Between", "NotBetween":
		lo, hi := parseRange(value)
		expr := frame.Between(col, lo, hi)
		if n.Operator == "NotBetween" {
			return frame.Not(expr), nil
		}
		return expr, nil
	case "Like", "NotLike":
		pattern, _ := value.(string)
		expr := frame.Like(col, pattern)
		if n.Operator == "NotLike" {
			return frame.Not(expr), nil
		}
		return expr, nil
	default:
		return nil, fmt.Errorf("unsupported criteria operator %q on column %q", n.Operator, n.Column)
	}
}

// alwaysTrue wraps an unresolved nested-membership lookup. The legacy engine
// treats these as match-everything rather than failing; we keep that behavior
// but log it, since it silently widens inclusion.
type alwaysTrue struct{ inner frame.Expr }

func (a alwaysTrue) Eval(f *frame.Frame) (*frame.Series, error) { return a.inner.Eval(f) }

func compileMembership(n *Node, value any, pre *Precomputed) (frame.Expr, error) {
	if spec, ok := nestedSpec(value); ok {
		set := pre.lookup(spec.Key)
		if set == nil {
			log.Warn().
				Str("column", n.Column).
				Str("cache_key", spec.Key).
				Msg("nested membership set missing, criteria degrades to match-all")
			return alwaysTrue{inner: frame.LitBool(true)}, nil
		}
		return frame.In(frame.Col(n.Column), set), nil
	}
	items := parseList(value)
	set := frame.NewSet()
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			set.AddFloat(v)
		case string:
			set.AddString(v)
		}
	}
	return frame.In(frame.Col(n.Column), set), nil
}

func scalarLit(value any) frame.Expr {
	num, str, numeric := parseScalar(value)
	if numeric {
		return frame.LitFloat(num)
	}
	return frame.LitString(str)
}
