package ingest

import (
	"fmt"

	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/persistence"
)

// InstrumentIDs collects the distinct instrument ids present in either
// relation, positions first.
func InstrumentIDs(positions, lookthroughs *frame.Frame) []string {
	ids := positions.DistinctStrings(ColInstrumentID)
	if lookthroughs == nil {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range lookthroughs.DistinctStrings(ColInstrumentID) {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParentInstrumentIDs collects the distinct lookthrough parent ids.
func ParentInstrumentIDs(lookthroughs *frame.Frame) []string {
	if lookthroughs == nil {
		return nil
	}
	return lookthroughs.DistinctStrings(ColParentInstrumentID)
}

// ApplyReference left-joins one fetched reference table onto the relations.
// Ordinary tables join both relations on instrument_id. The
// PARENT_INSTRUMENT pseudo-table is the instrument table queried again under
// the parent join key: it joins only the lookthroughs, on
// parent_instrument_id against the table's own instrument_id, and its
// columns arrive prefixed "parent_". Joined numeric columns are
// sentinel-filled so criteria can compare them.
func ApplyReference(positions, lookthroughs *frame.Frame, table string, rows []persistence.Row) error {
	ref, err := referenceFrame(rows)
	if err != nil {
		return fmt.Errorf("reference table %s: %w", table, err)
	}
	if table == persistence.ParentInstrumentTable {
		if lookthroughs == nil {
			return nil
		}
		return joinAndFill(lookthroughs, ref, ColParentInstrumentID, "parent_")
	}
	if err := joinAndFill(positions, ref, ColInstrumentID, ""); err != nil {
		return err
	}
	if lookthroughs != nil {
		return joinAndFill(lookthroughs, ref, ColInstrumentID, "")
	}
	return nil
}

func joinAndFill(dst, ref *frame.Frame, dstKey, prefix string) error {
	before := make(map[string]struct{})
	for _, n := range dst.Names() {
		before[n] = struct{}{}
	}
	if err := dst.LeftJoin(ref, dstKey, ColInstrumentID, prefix); err != nil {
		return err
	}
	for _, n := range dst.Names() {
		if _, old := before[n]; old {
			continue
		}
		if s := dst.Column(n); s.IsNumeric() {
			fillSentinels(s)
		}
	}
	return nil
}

// referenceFrame assembles raw fetched rows into a frame, with no request
// standardization applied.
func referenceFrame(rows []persistence.Row) (*frame.Frame, error) {
	f := frame.New(len(rows))
	seen := make(map[string]struct{})
	var names []string
	for _, row := range rows {
		for _, k := range sortedKeys(row) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			names = append(names, k)
		}
	}
	generic := make([]map[string]any, len(rows))
	for i, row := range rows {
		generic[i] = row
	}
	for _, name := range names {
		if err := f.SetColumn(name, buildSeries(generic, name)); err != nil {
			return nil, err
		}
	}
	return f, nil
}
