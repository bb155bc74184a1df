package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundlens/perspective/internal/frame"
)

func evalOn(t *testing.T, n *Node, f *frame.Frame, pre *Precomputed) []bool {
	t.Helper()
	expr, err := Compile(n, 7, pre)
	require.NoError(t, err)
	s, err := expr.Eval(f)
	require.NoError(t, err)
	out := make([]bool, s.Len())
	for i := range out {
		out[i] = s.IsValid(i) && s.Bool(i)
	}
	return out
}

func sampleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f := frame.New(4)
	require.NoError(t, f.SetColumn("liquidity_type_id", frame.NewInt([]int64{2, 3, 8, frame.IntNull}, nil)))
	require.NoError(t, f.SetColumn("position_type", frame.NewString([]string{"holding", "benchmark", "holding", "cash"}, nil)))
	require.NoError(t, f.SetColumn("perspective_id", frame.NewInt([]int64{7, 7, 5, 7}, nil)))
	return f
}

func TestParseCombinators(t *testing.T) {
	n, err := Parse([]byte(`{
		"and": [
			{"column": "liquidity_type_id", "operator": "==", "value": 2},
			{"not": {"column": "position_type", "operator": "=", "value": "benchmark"}}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, KindAnd, n.Kind)
	require.Len(t, n.Children, 2)
	assert.Equal(t, KindLeaf, n.Children[0].Kind)
	assert.Equal(t, KindNot, n.Children[1].Kind)

	assert.Equal(t, []bool{true, false, false, false}, evalOn(t, n, sampleFrame(t), nil))
}

func TestParseRejectsMalformedLeaf(t *testing.T) {
	_, err := Parse([]byte(`{"column": "x"}`))
	assert.Error(t, err, "leaf without operator")

	_, err = Parse([]byte(`{"operator": "=="}`))
	assert.Error(t, err, "leaf without column")
}

func TestNilCriteriaAlwaysTrue(t *testing.T) {
	n, err := Parse(nil)
	require.NoError(t, err)
	require.Nil(t, n)
	assert.Equal(t, []bool{true, true, true, true}, evalOn(t, n, sampleFrame(t), nil))
}

func TestEmptyCombinators(t *testing.T) {
	assert.Equal(t, []bool{true, true, true, true}, evalOn(t, NewAnd(), sampleFrame(t), nil))
	assert.Equal(t, []bool{false, false, false, false}, evalOn(t, NewOr(), sampleFrame(t), nil))
}

func TestComparisonOperators(t *testing.T) {
	f := sampleFrame(t)
	cases := []struct {
		op    string
		value any
		want  []bool
	}{
		{"==", 2.0, []bool{true, false, false, false}},
		{"=", "2", []bool{true, false, false, false}},
		{"!=", 2.0, []bool{false, true, true, true}},
		{">", 2.0, []bool{false, true, true, false}},
		{">=", 3.0, []bool{false, true, true, false}},
		{"<", 3.0, []bool{true, false, false, true}},
		{"<=", 2.0, []bool{true, false, false, true}},
	}
	for _, tc := range cases {
		got := evalOn(t, Leaf("liquidity_type_id", tc.op, tc.value), f, nil)
		assert.Equal(t, tc.want, got, "operator %s", tc.op)
	}
}

func TestInParsesPythonStyleLists(t *testing.T) {
	f := sampleFrame(t)
	assert.Equal(t, []bool{true, false, true, false},
		evalOn(t, Leaf("liquidity_type_id", "In", "(2,8,9)"), f, nil))
	assert.Equal(t, []bool{true, false, true, false},
		evalOn(t, Leaf("liquidity_type_id", "In", "[2, 8, 9]"), f, nil))
	assert.Equal(t, []bool{false, true, false, true},
		evalOn(t, Leaf("liquidity_type_id", "NotIn", "(2,8,9)"), f, nil))
	assert.Equal(t, []bool{true, false, false, true},
		evalOn(t, Leaf("position_type", "In", "('holding', 'cash')"), f, nil))
}

func TestNotInExcludesMember(t *testing.T) {
	f := sampleFrame(t)
	got := evalOn(t, Leaf("liquidity_type_id", "NotIn", "(4,8,9)"), f, nil)
	assert.False(t, got[2], "row with value 8 is excluded")
	assert.True(t, got[0])
}

func TestPerspectiveIDSubstitution(t *testing.T) {
	f := sampleFrame(t)
	got := evalOn(t, Leaf("perspective_id", "==", "perspective_id"), f, nil)
	assert.Equal(t, []bool{true, true, false, true}, got, "token substitutes to the current perspective")

	got = evalOn(t, Leaf("perspective_id", "In", "(perspective_id, 99)"), f, nil)
	assert.Equal(t, []bool{true, true, false, true}, got)
}

func TestNullOperators(t *testing.T) {
	f := sampleFrame(t)
	assert.Equal(t, []bool{false, false, false, true},
		evalOn(t, Leaf("liquidity_type_id", "IsNull", nil), f, nil),
		"sentinel counts as null")
	assert.Equal(t, []bool{true, true, true, false},
		evalOn(t, Leaf("liquidity_type_id", "IsNotNull", nil), f, nil))
}

func TestBetweenEncodings(t *testing.T) {
	f := sampleFrame(t)
	want := []bool{true, true, false, false}
	assert.Equal(t, want, evalOn(t, Leaf("liquidity_type_id", "Between", "fncriteria:2:3"), f, nil))
	assert.Equal(t, want, evalOn(t, Leaf("liquidity_type_id", "Between", []any{2.0, 3.0}), f, nil))
	assert.Equal(t, []bool{false, false, true, true},
		evalOn(t, Leaf("liquidity_type_id", "NotBetween", "fncriteria:2:3"), f, nil))
	// Malformed ranges fall back to [0,0].
	assert.Equal(t, []bool{false, false, false, false},
		evalOn(t, Leaf("liquidity_type_id", "Between", "fncriteria:junk"), f, nil))
}

func TestLikeOperators(t *testing.T) {
	f := sampleFrame(t)
	assert.Equal(t, []bool{true, false, true, false},
		evalOn(t, Leaf("position_type", "Like", "%HOLD%"), f, nil))
	assert.Equal(t, []bool{false, true, false, true},
		evalOn(t, Leaf("position_type", "NotLike", "%hold%"), f, nil))
}

func TestUnsupportedOperator(t *testing.T) {
	_, err := Compile(Leaf("x", "Matches", "y"), 1, nil)
	assert.Error(t, err)
}

func TestNestedMembership(t *testing.T) {
	f := sampleFrame(t)
	nested := map[string]any{"column": "liquidity_type_id"}
	leaf := Leaf("liquidity_type_id", "In", nested)

	specs := CollectNested(leaf)
	require.Len(t, specs, 1)
	assert.Equal(t, "liquidity_type_id", specs[0].Column)

	set := frame.NewSet()
	set.AddFloat(2)
	pre := NewPrecomputed()
	pre.Add(specs[0].Key, set)
	assert.Equal(t, []bool{true, false, false, false}, evalOn(t, leaf, f, pre))
}

func TestNestedMembershipFailsOpen(t *testing.T) {
	f := sampleFrame(t)
	nested := map[string]any{"column": "liquidity_type_id"}
	// No precomputed set: both In and NotIn degrade to match-all.
	assert.Equal(t, []bool{true, true, true, true},
		evalOn(t, Leaf("liquidity_type_id", "In", nested), f, NewPrecomputed()))
	assert.Equal(t, []bool{true, true, true, true},
		evalOn(t, Leaf("liquidity_type_id", "NotIn", nested), f, NewPrecomputed()))
}

func TestCollectNestedDeduplicates(t *testing.T) {
	nested := map[string]any{"column": "sector_id"}
	a := Leaf("sector_id", "In", nested)
	b := Leaf("sector_id", "NotIn", map[string]any{"column": "sector_id"})
	specs := CollectNested(NewAnd(a, b))
	assert.Len(t, specs, 1, "identical specs share one cache key")
}

func TestNestedSpecWithInnerCriteria(t *testing.T) {
	nested := map[string]any{
		"column":   "instrument_id",
		"criteria": map[string]any{"column": "position_type", "operator": "==", "value": "holding"},
	}
	specs := CollectNested(Leaf("parent_instrument_id", "In", nested))
	require.Len(t, specs, 1)
	require.NotNil(t, specs[0].Criteria)
	assert.Equal(t, KindLeaf, specs[0].Criteria.Kind)
	assert.Equal(t, "position_type", specs[0].Criteria.Column)
}
