package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/persistence"
	"github.com/fundlens/perspective/internal/perspective"
)

const sampleRequest = `{
	"perspective_configurations": {"default": {"10": []}},
	"position_weight_labels": ["weight"],
	"verbose_output": true,
	"fund_a": {
		"position_type": "holding",
		"positions": {
			"p1": {"instrument_identifier": "i1", "weight": 60.0, "liquidity_type_id": 2},
			"p2": {"instrument_id": "i2", "weight": 40.0}
		},
		"essential_lookthroughs": {
			"l1": {"instrument_id": "i3", "parent_instrument_id": "i1", "weight": 30.0},
			"l2": {"instrument_id": "i4", "parent_instrument_id": "i1", "weight": 30.0}
		},
		"fx_lookthroughs": {
			"l3": {"instrument_id": "i5", "parent_instrument_id": "i2", "weight": 40.0}
		}
	},
	"fund_b": {
		"position_type": "benchmark",
		"positions": {
			"p3": {"instrument_id": "i1", "weight": 100.0, "sub_portfolio_id": "growth"}
		}
	},
	"not_a_container": {"some": "metadata"}
}`

func parseSample(t *testing.T) *Request {
	t.Helper()
	req, err := ParseRequest([]byte(sampleRequest))
	require.NoError(t, err)
	return req
}

func TestParseRequestContainers(t *testing.T) {
	req := parseSample(t)
	require.Len(t, req.Containers, 2)
	a := req.Containers["fund_a"]
	assert.Equal(t, "holding", a.PositionType)
	assert.Len(t, a.Positions, 2)
	assert.Len(t, a.Lookthroughs, 2)
	assert.Len(t, a.Lookthroughs["essential_lookthroughs"], 2)
	_, ok := req.Containers["not_a_container"]
	assert.False(t, ok, "mappings without position_type are not containers")

	assert.True(t, req.VerboseOutput)
	assert.Equal(t, []string{"weight"}, req.PositionWeightLabels)
	assert.Equal(t, []string{"weight"}, req.LookthroughWeightLabels, "lookthrough labels default to positions'")
}

func TestParseRequestValidation(t *testing.T) {
	_, err := ParseRequest([]byte(`{"position_weight_labels": ["weight"]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, perspective.ErrInvalidRequest))

	_, err = ParseRequest([]byte(`{"perspective_configurations": {"d": {"1": []}}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, perspective.ErrInvalidRequest), "weight labels are required")
}

func TestBuildFrames(t *testing.T) {
	req := parseSample(t)
	pos, lt, err := BuildFrames(req)
	require.NoError(t, err)

	require.Equal(t, 3, pos.NumRows())
	require.NotNil(t, lt)
	require.Equal(t, 3, lt.NumRows())

	// instrument_identifier renamed, containers and types tagged.
	assert.True(t, pos.Has(ColInstrumentID))
	assert.False(t, pos.Has("instrument_identifier"))
	assert.Equal(t, "fund_a", pos.Column(ColContainer).Str(0))
	assert.Equal(t, RecordTypePosition, pos.Column(ColRecordType).Str(0))

	// Lookthrough record types come from the request keys.
	rts := lt.DistinctStrings(ColRecordType)
	assert.ElementsMatch(t, []string{"essential_lookthroughs", "fx_lookthroughs"}, rts)

	// sub_portfolio_id defaults where absent, survives where present.
	sub := pos.Column(ColSubPortfolioID)
	subs := map[string]bool{}
	for i := 0; i < pos.NumRows(); i++ {
		subs[sub.Str(i)] = true
	}
	assert.True(t, subs[DefaultSubPortfolio])
	assert.True(t, subs["growth"])

	// perspective_id column always exists, sentinel-filled.
	require.True(t, pos.Has(ColPerspectiveID))
	pid := pos.Column(ColPerspectiveID)
	assert.True(t, pid.IsSentinel(0))
}

func TestSentinelFillSkipsWeights(t *testing.T) {
	req := parseSample(t)
	pos, _, err := BuildFrames(req)
	require.NoError(t, err)

	// liquidity_type_id was only set on p1; other rows get the int sentinel.
	liq := pos.Column("liquidity_type_id")
	require.NotNil(t, liq)
	sentinels := 0
	for i := 0; i < pos.NumRows(); i++ {
		require.True(t, liq.IsValid(i), "sentinel-filled entries are valid values")
		if liq.IsSentinel(i) {
			sentinels++
		}
	}
	assert.Equal(t, 2, sentinels)

	// Weight columns keep true null semantics.
	w := pos.Column("weight")
	for i := 0; i < pos.NumRows(); i++ {
		assert.True(t, w.IsValid(i))
		assert.False(t, w.IsSentinel(i))
	}
}

func TestInstrumentIDCollection(t *testing.T) {
	req := parseSample(t)
	pos, lt, err := BuildFrames(req)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"i1", "i2", "i3", "i4", "i5"}, InstrumentIDs(pos, lt))
	assert.ElementsMatch(t, []string{"i1", "i2"}, ParentInstrumentIDs(lt))
	assert.Empty(t, ParentInstrumentIDs(nil))
}

func TestApplyReference(t *testing.T) {
	req := parseSample(t)
	pos, lt, err := BuildFrames(req)
	require.NoError(t, err)

	rows := []persistence.Row{
		{"instrument_id": "i1", "is_investable_id": 1.0},
		{"instrument_id": "i3", "is_investable_id": 0.0},
	}
	require.NoError(t, ApplyReference(pos, lt, "INSTRUMENT", rows))

	inv := pos.Column("is_investable_id")
	require.NotNil(t, inv)
	ltInv := lt.Column("is_investable_id")
	require.NotNil(t, ltInv, "ordinary tables join both relations")

	// Unmatched instruments sentinel-fill after the join.
	sentinels := 0
	for i := 0; i < pos.NumRows(); i++ {
		require.True(t, inv.IsValid(i))
		if inv.IsSentinel(i) {
			sentinels++
		}
	}
	assert.Equal(t, 1, sentinels, "i2 has no reference row")
}

func TestApplyParentInstrumentReference(t *testing.T) {
	req := parseSample(t)
	pos, lt, err := BuildFrames(req)
	require.NoError(t, err)

	rows := []persistence.Row{
		{"instrument_id": "i1", "instrument_type_id": 4.0},
	}
	require.NoError(t, ApplyReference(pos, lt, persistence.ParentInstrumentTable, rows))

	assert.False(t, pos.Has("parent_instrument_type_id"), "positions are untouched")
	ptype := lt.Column("parent_instrument_type_id")
	require.NotNil(t, ptype)

	// Rows whose parent is i1 carry the joined value; the i2 child gets a sentinel.
	parent := lt.Column(ColParentInstrumentID)
	for i := 0; i < lt.NumRows(); i++ {
		if parent.Str(i) == "i1" {
			assert.Equal(t, 4.0, ptype.Float(i))
		} else {
			assert.True(t, ptype.IsSentinel(i))
		}
	}
}

func TestNoLookthroughsYieldsNilFrame(t *testing.T) {
	req, err := ParseRequest([]byte(`{
		"perspective_configurations": {"d": {"1": []}},
		"position_weight_labels": ["weight"],
		"fund": {"position_type": "holding", "positions": {"p1": {"instrument_id": "i1", "weight": 1.0}}}
	}`))
	require.NoError(t, err)
	pos, lt, err := BuildFrames(req)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.NumRows())
	assert.Nil(t, lt)

	assert.NoError(t, ApplyReference(pos, nil, persistence.ParentInstrumentTable, nil))
}

func TestMixedTypeColumnCoercesToString(t *testing.T) {
	rows := []map[string]any{
		{"code": "abc"},
		{"code": 12.0},
	}
	s := buildSeries(rows, "code")
	require.Equal(t, frame.KindString, s.Kind())
	assert.Equal(t, "abc", s.Str(0))
	assert.Equal(t, "12", s.Str(1))
}
