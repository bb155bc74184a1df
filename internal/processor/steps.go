package processor

import (
	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/ingest"
)

// RecordTypeEssential is the lookthrough category whose rows join the
// position-side denominator during 100%-rescaling.
const RecordTypeEssential = "essential_lookthroughs"

// syncStep nulls out every lookthrough factor whose parent position factor is
// null for the same perspective. Parents match on
// (parent_instrument_id, sub_portfolio_id) against (instrument_id,
// sub_portfolio_id); an absent parent counts as excluded.
func syncStep(pairs []Pair) func(pos, lt *frame.Frame) error {
	return func(pos, lt *frame.Frame) error {
		if lt == nil {
			return nil
		}
		idx := pos.RowIndex([]string{ingest.ColInstrumentID, ingest.ColSubPortfolioID})
		parentKeys := []string{ingest.ColParentInstrumentID, ingest.ColSubPortfolioID}
		for _, pair := range pairs {
			pf := pos.Column(pair.FactorColumn)
			lf := lt.Column(pair.FactorColumn)
			if pf == nil || lf == nil {
				continue
			}
			for i := 0; i < lt.NumRows(); i++ {
				if !lf.IsValid(i) {
					continue
				}
				row, ok := idx[lt.GroupKey(parentKeys, i)]
				if !ok || !pf.IsValid(row) {
					lf.SetNull(i)
				}
			}
		}
		return nil
	}
}

// rescalePositionsStep divides a position factor column by the per-group sum
// of weight*factor, so kept weights total 100% again. The group is
// (container, sub_portfolio_id) and the denominator spans both positions and
// essential lookthroughs. A zero denominator leaves the factor unchanged.
func rescalePositionsStep(factorCol, weightLabel string) func(pos, lt *frame.Frame) error {
	return func(pos, lt *frame.Frame) error {
		keys := []string{ingest.ColContainer, ingest.ColSubPortfolioID}
		denoms := pos.GroupSums(keys, weightedFactor(pos, weightLabel, factorCol, nil))
		if lt != nil {
			rt := lt.Column(ingest.ColRecordType)
			essential := func(i int) bool {
				return rt != nil && rt.IsValid(i) && rt.Str(i) == RecordTypeEssential
			}
			for key, sum := range lt.GroupSums(keys, weightedFactor(lt, weightLabel, factorCol, essential)) {
				denoms[key] += sum
			}
		}
		divideFactor(pos, keys, factorCol, denoms)
		return nil
	}
}

// rescaleLookthroughsStep divides a lookthrough factor column by the
// per-(container, parent, sub-portfolio, record type) sum of weight*factor.
// A zero denominator leaves the factor unchanged.
func rescaleLookthroughsStep(factorCol, weightLabel string) func(pos, lt *frame.Frame) error {
	return func(pos, lt *frame.Frame) error {
		if lt == nil {
			return nil
		}
		keys := []string{ingest.ColContainer, ingest.ColParentInstrumentID, ingest.ColSubPortfolioID, ingest.ColRecordType}
		denoms := lt.GroupSums(keys, weightedFactor(lt, weightLabel, factorCol, nil))
		divideFactor(lt, keys, factorCol, denoms)
		return nil
	}
}

// weightedFactor yields weight*factor per row, skipping rows where either is
// null or the row filter rejects.
func weightedFactor(f *frame.Frame, weightLabel, factorCol string, include func(i int) bool) func(i int) (float64, bool) {
	w := f.Column(weightLabel)
	fc := f.Column(factorCol)
	return func(i int) (float64, bool) {
		if w == nil || fc == nil || !w.IsValid(i) || !fc.IsValid(i) {
			return 0, false
		}
		if include != nil && !include(i) {
			return 0, false
		}
		return w.Float(i) * fc.Float(i), true
	}
}

func divideFactor(f *frame.Frame, keys []string, factorCol string, denoms map[string]float64) {
	fc := f.Column(factorCol)
	if fc == nil {
		return
	}
	for i := 0; i < f.NumRows(); i++ {
		if !fc.IsValid(i) {
			continue
		}
		if d := denoms[f.GroupKey(keys, i)]; d != 0 {
			fc.SetFloat(i, fc.Float(i)/d)
		}
	}
}
