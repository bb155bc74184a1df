package frame

import (
	"fmt"
	"strings"
)

// Expr is a lazily-evaluated column expression. Expressions are built up
// front for every requested perspective and evaluated in a single pass when
// the plan is collected.
type Expr interface {
	// Eval produces one entry per frame row.
	Eval(f *Frame) (*Series, error)
}

// CmpOp is a comparison operator for Compare expressions.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpGt
	CmpLt
	CmpGe
	CmpLe
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpNe:
		return "!="
	case CmpGt:
		return ">"
	case CmpLt:
		return "<"
	case CmpGe:
		return ">="
	case CmpLe:
		return "<="
	default:
		return "?"
	}
}

type colExpr struct{ name string }

// Col references a frame column by name. Referencing a column the request
// never supplied is a configuration error surfaced at collect time.
func Col(name string) Expr { return colExpr{name: name} }

func (e colExpr) Eval(f *Frame) (*Series, error) {
	col := f.Column(e.name)
	if col == nil {
		return nil, fmt.Errorf("unknown column %q", e.name)
	}
	return col, nil
}

type litExpr struct {
	kind Kind
	f    float64
	s    string
	b    bool
	null bool
}

// LitFloat is a float literal broadcast to every row.
func LitFloat(v float64) Expr { return litExpr{kind: KindFloat, f: v} }

// LitString is a string literal broadcast to every row.
func LitString(v string) Expr { return litExpr{kind: KindString, s: v} }

// LitBool is a bool literal broadcast to every row.
func LitBool(v bool) Expr { return litExpr{kind: KindBool, b: v} }

// LitNull is a null float literal broadcast to every row.
func LitNull() Expr { return litExpr{kind: KindFloat, null: true} }

func (e litExpr) Eval(f *Frame) (*Series, error) {
	n := f.NumRows()
	if e.null {
		return NewNull(KindFloat, n), nil
	}
	switch e.kind {
	case KindFloat:
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = e.f
		}
		return NewFloat(vals, nil), nil
	case KindString:
		vals := make([]string, n)
		for i := range vals {
			vals[i] = e.s
		}
		return NewString(vals, nil), nil
	default:
		vals := make([]bool, n)
		for i := range vals {
			vals[i] = e.b
		}
		return NewBool(vals, nil), nil
	}
}

type cmpExpr struct {
	op          CmpOp
	left, right Expr
}

// Compare builds a row-wise comparison yielding a bool series. Numeric
// operands compare as floats, otherwise both sides compare as strings.
// Rows where either side is a true null yield false.
func Compare(op CmpOp, left, right Expr) Expr { return cmpExpr{op: op, left: left, right: right} }

func (e cmpExpr) Eval(f *Frame) (*Series, error) {
	l, err := e.left.Eval(f)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Eval(f)
	if err != nil {
		return nil, err
	}
	n := f.NumRows()
	out := make([]bool, n)
	numeric := l.IsNumeric() && r.IsNumeric()
	for i := 0; i < n; i++ {
		if !l.IsValid(i) || !r.IsValid(i) {
			continue
		}
		if numeric {
			out[i] = cmpFloat(e.op, l.Float(i), r.Float(i))
		} else {
			out[i] = cmpString(e.op, l.Str(i), r.Str(i))
		}
	}
	return NewBool(out, nil), nil
}

func cmpFloat(op CmpOp, a, b float64) bool {
	switch op {
	case CmpEq:
		return a == b
	case CmpNe:
		return a != b
	case CmpGt:
		return a > b
	case CmpLt:
		return a < b
	case CmpGe:
		return a >= b
	default:
		return a <= b
	}
}

func cmpString(op CmpOp, a, b string) bool {
	switch op {
	case CmpEq:
		return a == b
	case CmpNe:
		return a != b
	case CmpGt:
		return a > b
	case CmpLt:
		return a < b
	case CmpGe:
		return a >= b
	default:
		return a <= b
	}
}

type boolExpr struct {
	isAnd    bool
	children []Expr
}

// And combines bool expressions; an empty And is always true.
func And(children ...Expr) Expr { return boolExpr{isAnd: true, children: children} }

// Or combines bool expressions; an empty Or is always false.
func Or(children ...Expr) Expr { return boolExpr{isAnd: false, children: children} }

func (e boolExpr) Eval(f *Frame) (*Series, error) {
	n := f.NumRows()
	out := make([]bool, n)
	for i := range out {
		out[i] = e.isAnd
	}
	for _, child := range e.children {
		s, err := child.Eval(f)
		if err != nil {
			return nil, err
		}
		if s.Kind() != KindBool {
			return nil, fmt.Errorf("boolean combinator over %s series", s.Kind())
		}
		for i := 0; i < n; i++ {
			v := s.IsValid(i) && s.Bool(i)
			if e.isAnd {
				out[i] = out[i] && v
			} else {
				out[i] = out[i] || v
			}
		}
	}
	return NewBool(out, nil), nil
}

type notExpr struct{ child Expr }

// Not negates a bool expression. Null entries negate to true, matching the
// convention that a null never satisfies the inner predicate.
func Not(child Expr) Expr { return notExpr{child: child} }

func (e notExpr) Eval(f *Frame) (*Series, error) {
	s, err := e.child.Eval(f)
	if err != nil {
		return nil, err
	}
	if s.Kind() != KindBool {
		return nil, fmt.Errorf("negation over %s series", s.Kind())
	}
	n := f.NumRows()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = !(s.IsValid(i) && s.Bool(i))
	}
	return NewBool(out, nil), nil
}

// Set is a membership set holding both numeric and string forms so that
// In-criteria match regardless of the column's physical type.
type Set struct {
	nums map[float64]struct{}
	strs map[string]struct{}
}

// NewSet returns an empty membership set.
func NewSet() *Set {
	return &Set{nums: make(map[float64]struct{}), strs: make(map[string]struct{})}
}

// AddFloat inserts a numeric member.
func (s *Set) AddFloat(v float64) { s.nums[v] = struct{}{} }

// AddString inserts a string member.
func (s *Set) AddString(v string) { s.strs[v] = struct{}{} }

// Size reports the member count.
func (s *Set) Size() int { return len(s.nums) + len(s.strs) }

type inExpr struct {
	input Expr
	set   *Set
}

// In tests row-wise set membership. Numeric entries match numeric members,
// string entries match string members.
func In(input Expr, set *Set) Expr { return inExpr{input: input, set: set} }

func (e inExpr) Eval(f *Frame) (*Series, error) {
	s, err := e.input.Eval(f)
	if err != nil {
		return nil, err
	}
	n := f.NumRows()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		if !s.IsValid(i) {
			continue
		}
		if s.IsNumeric() {
			_, out[i] = e.set.nums[s.Float(i)]
		} else {
			_, out[i] = e.set.strs[s.Str(i)]
		}
	}
	return NewBool(out, nil), nil
}

type isNullExpr struct{ input Expr }

// IsNull tests for missing values: true nulls and sentinel-filled entries
// both count as null.
func IsNull(input Expr) Expr { return isNullExpr{input: input} }

func (e isNullExpr) Eval(f *Frame) (*Series, error) {
	s, err := e.input.Eval(f)
	if err != nil {
		return nil, err
	}
	n := f.NumRows()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = !s.IsValid(i) || s.IsSentinel(i)
	}
	return NewBool(out, nil), nil
}

type betweenExpr struct {
	input  Expr
	lo, hi float64
}

// Between tests lo <= value <= hi, inclusive on both ends.
func Between(input Expr, lo, hi float64) Expr { return betweenExpr{input: input, lo: lo, hi: hi} }

func (e betweenExpr) Eval(f *Frame) (*Series, error) {
	s, err := e.input.Eval(f)
	if err != nil {
		return nil, err
	}
	n := f.NumRows()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		if !s.IsValid(i) {
			continue
		}
		v := s.Float(i)
		out[i] = v >= e.lo && v <= e.hi
	}
	return NewBool(out, nil), nil
}

type likeExpr struct {
	input   Expr
	pattern string
}

// Like performs case-insensitive wildcard matching: %x% contains, x% prefix,
// %x suffix, anything else exact.
func Like(input Expr, pattern string) Expr { return likeExpr{input: input, pattern: pattern} }

func (e likeExpr) Eval(f *Frame) (*Series, error) {
	s, err := e.input.Eval(f)
	if err != nil {
		return nil, err
	}
	p := strings.ToLower(e.pattern)
	contains := strings.HasPrefix(p, "%") && strings.HasSuffix(p, "%") && len(p) >= 2
	prefix := !contains && strings.HasSuffix(p, "%")
	suffix := !contains && strings.HasPrefix(p, "%")
	needle := strings.Trim(p, "%")
	n := f.NumRows()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		if !s.IsValid(i) {
			continue
		}
		v := strings.ToLower(s.Str(i))
		switch {
		case contains:
			out[i] = strings.Contains(v, needle)
		case prefix:
			out[i] = strings.HasPrefix(v, needle)
		case suffix:
			out[i] = strings.HasSuffix(v, needle)
		default:
			out[i] = v == p
		}
	}
	return NewBool(out, nil), nil
}

type arithExpr struct {
	mul         bool
	left, right Expr
}

// Mul multiplies two numeric expressions row-wise; null operands yield null.
func Mul(left, right Expr) Expr { return arithExpr{mul: true, left: left, right: right} }

// Div divides two numeric expressions row-wise; null operands and a zero
// divisor yield null.
func Div(left, right Expr) Expr { return arithExpr{left: left, right: right} }

func (e arithExpr) Eval(f *Frame) (*Series, error) {
	l, err := e.left.Eval(f)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Eval(f)
	if err != nil {
		return nil, err
	}
	if !l.IsNumeric() && l.Kind() != KindBool || !r.IsNumeric() && r.Kind() != KindBool {
		return nil, fmt.Errorf("arithmetic over %s and %s series", l.Kind(), r.Kind())
	}
	n := f.NumRows()
	vals := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		if !l.IsValid(i) || !r.IsValid(i) {
			continue
		}
		if e.mul {
			vals[i] = l.Float(i) * r.Float(i)
			valid[i] = true
		} else if r.Float(i) != 0 {
			vals[i] = l.Float(i) / r.Float(i)
			valid[i] = true
		}
	}
	return NewFloat(vals, valid), nil
}

type whenExpr struct {
	cond, then, otherwise Expr
}

// When yields then where cond holds, otherwise elsewhere. Null or false
// conditions select otherwise.
func When(cond, then, otherwise Expr) Expr {
	return whenExpr{cond: cond, then: then, otherwise: otherwise}
}

func (e whenExpr) Eval(f *Frame) (*Series, error) {
	c, err := e.cond.Eval(f)
	if err != nil {
		return nil, err
	}
	if c.Kind() != KindBool {
		return nil, fmt.Errorf("when condition is a %s series", c.Kind())
	}
	t, err := e.then.Eval(f)
	if err != nil {
		return nil, err
	}
	o, err := e.otherwise.Eval(f)
	if err != nil {
		return nil, err
	}
	n := f.NumRows()
	vals := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		src := o
		if c.IsValid(i) && c.Bool(i) {
			src = t
		}
		if src.IsValid(i) {
			vals[i] = src.Float(i)
			valid[i] = true
		}
	}
	return NewFloat(vals, valid), nil
}
