// Package criteria decodes declarative criteria trees and compiles them into
// frame expressions. A tree is either a leaf comparison or an and/or/not
// combinator over child trees.
package criteria

import (
	"encoding/json"
	"fmt"
)

// NodeKind tags the variant a Node holds.
type NodeKind int

const (
	KindLeaf NodeKind = iota
	KindAnd
	KindOr
	KindNot
)

// Node is one node of a criteria tree. A nil *Node compiles to "always true"
// (pure scaling rules carry no criteria).
type Node struct {
	Kind     NodeKind
	Children []*Node // and/or children, or the single not child
	Column   string  // leaf only
	Operator string  // leaf only
	Value    any     // leaf only, decoded JSON value
}

// Leaf builds a leaf node.
func Leaf(column, operator string, value any) *Node {
	return &Node{Kind: KindLeaf, Column: column, Operator: operator, Value: value}
}

// NewAnd builds an and-combinator.
func NewAnd(children ...*Node) *Node { return &Node{Kind: KindAnd, Children: children} }

// NewOr builds an or-combinator.
func NewOr(children ...*Node) *Node { return &Node{Kind: KindOr, Children: children} }

// NewNot builds a negation.
func NewNot(child *Node) *Node { return &Node{Kind: KindNot, Children: []*Node{child}} }

// UnmarshalJSON decodes the wire form: {"and":[...]}, {"or":[...]},
// {"not":{...}} or a leaf {"column":..., "operator":..., "value":...}.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("criteria node: %w", err)
	}
	if children, ok := raw["and"]; ok {
		n.Kind = KindAnd
		return json.Unmarshal(children, &n.Children)
	}
	if children, ok := raw["or"]; ok {
		n.Kind = KindOr
		return json.Unmarshal(children, &n.Children)
	}
	if child, ok := raw["not"]; ok {
		n.Kind = KindNot
		inner := &Node{}
		if err := json.Unmarshal(child, inner); err != nil {
			return err
		}
		n.Children = []*Node{inner}
		return nil
	}
	n.Kind = KindLeaf
	col, ok := raw["column"]
	if !ok {
		return fmt.Errorf("criteria leaf is missing column: %s", data)
	}
	if err := json.Unmarshal(col, &n.Column); err != nil {
		return fmt.Errorf("criteria leaf column: %w", err)
	}
	op, ok := raw["operator"]
	if !ok {
		return fmt.Errorf("criteria leaf is missing operator: %s", data)
	}
	if err := json.Unmarshal(op, &n.Operator); err != nil {
		return fmt.Errorf("criteria leaf operator: %w", err)
	}
	if v, ok := raw["value"]; ok {
		if err := json.Unmarshal(v, &n.Value); err != nil {
			return fmt.Errorf("criteria leaf value: %w", err)
		}
	}
	return nil
}

// Parse decodes a criteria tree from JSON. Empty or "null" input yields nil,
// the always-true tree.
func Parse(data []byte) (*Node, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	n := &Node{}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Walk visits every node of the tree in depth-first order.
func (n *Node) Walk(visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}
