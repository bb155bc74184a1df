package ingest

import (
	"fmt"
	"sort"

	"github.com/fundlens/perspective/internal/frame"
)

// Well-known column names produced by ingestion.
const (
	ColContainer          = "container"
	ColPositionType       = "position_type"
	ColRecordType         = "record_type"
	ColIdentifier         = "identifier"
	ColInstrumentID       = "instrument_id"
	ColParentInstrumentID = "parent_instrument_id"
	ColSubPortfolioID     = "sub_portfolio_id"
	ColPerspectiveID      = "perspective_id"

	// RecordTypePosition tags every position row.
	RecordTypePosition = "position"
	// DefaultSubPortfolio fills absent sub_portfolio_id values.
	DefaultSubPortfolio = "default"
)

// BuildFrames walks the request containers and produces the positions and
// lookthroughs relations, standardized and sentinel-filled. The lookthroughs
// frame is nil when no container carried lookthrough rows.
func BuildFrames(req *Request) (*frame.Frame, *frame.Frame, error) {
	var posRows, ltRows []map[string]any

	for _, name := range sortedKeys(req.Containers) {
		c := req.Containers[name]
		for _, id := range sortedKeys(c.Positions) {
			row := cloneRow(c.Positions[id])
			row[ColContainer] = name
			row[ColPositionType] = c.PositionType
			row[ColRecordType] = RecordTypePosition
			row[ColIdentifier] = id
			posRows = append(posRows, row)
		}
		for _, recordType := range sortedKeys(c.Lookthroughs) {
			batch := c.Lookthroughs[recordType]
			for _, id := range sortedKeys(batch) {
				row := cloneRow(batch[id])
				row[ColContainer] = name
				row[ColPositionType] = c.PositionType
				row[ColRecordType] = recordType
				row[ColIdentifier] = id
				ltRows = append(ltRows, row)
			}
		}
	}

	positions, err := buildFrame(posRows, req.PositionWeightLabels)
	if err != nil {
		return nil, nil, fmt.Errorf("positions: %w", err)
	}
	var lookthroughs *frame.Frame
	if len(ltRows) > 0 {
		lookthroughs, err = buildFrame(ltRows, req.LookthroughWeightLabels)
		if err != nil {
			return nil, nil, fmt.Errorf("lookthroughs: %w", err)
		}
	}
	return positions, lookthroughs, nil
}

// buildFrame assembles rows into a typed frame and applies the
// standardization pass: instrument_identifier renames to instrument_id,
// sub_portfolio_id defaults, a sentinel-filled perspective_id column always
// exists, and numeric non-weight columns get sentinel nulls.
func buildFrame(rows []map[string]any, weightLabels []string) (*frame.Frame, error) {
	for _, row := range rows {
		if v, ok := row["instrument_identifier"]; ok {
			if _, exists := row[ColInstrumentID]; !exists {
				row[ColInstrumentID] = v
			}
			delete(row, "instrument_identifier")
		}
		if _, ok := row[ColSubPortfolioID]; !ok {
			row[ColSubPortfolioID] = DefaultSubPortfolio
		}
	}

	names := columnOrder(rows)
	f := frame.New(len(rows))
	weights := make(map[string]struct{}, len(weightLabels))
	for _, w := range weightLabels {
		weights[w] = struct{}{}
	}

	for _, name := range names {
		s := buildSeries(rows, name)
		if _, isWeight := weights[name]; !isWeight && s.IsNumeric() {
			fillSentinels(s)
		}
		if err := f.SetColumn(name, s); err != nil {
			return nil, err
		}
	}

	if !f.Has(ColPerspectiveID) {
		// Some modifiers compare against perspective_id; guarantee the column.
		vals := make([]int64, len(rows))
		for i := range vals {
			vals[i] = frame.IntNull
		}
		if err := f.SetColumn(ColPerspectiveID, frame.NewInt(vals, nil)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// columnOrder unions row keys, first-seen order with the well-known columns
// leading.
func columnOrder(rows []map[string]any) []string {
	lead := []string{ColContainer, ColPositionType, ColRecordType, ColIdentifier}
	seen := make(map[string]struct{}, 8)
	names := append([]string(nil), lead...)
	for _, n := range lead {
		seen[n] = struct{}{}
	}
	for _, row := range rows {
		for _, k := range sortedKeys(row) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			names = append(names, k)
		}
	}
	return names
}

// buildSeries infers a column type from its values. Numbers become an int
// column when every value is integral, else float; any string value forces a
// string column; bools stay bools.
func buildSeries(rows []map[string]any, name string) *frame.Series {
	hasString, hasBool, hasNumber, integral := false, false, false, true
	for _, row := range rows {
		switch v := row[name].(type) {
		case string:
			hasString = true
		case bool:
			hasBool = true
		case float64:
			hasNumber = true
			if v != float64(int64(v)) {
				integral = false
			}
		case int64:
			hasNumber = true
		}
	}

	n := len(rows)
	valid := make([]bool, n)
	switch {
	case hasString:
		vals := make([]string, n)
		for i, row := range rows {
			switch v := row[name].(type) {
			case string:
				vals[i] = v
				valid[i] = true
			case float64:
				vals[i] = formatNumber(v)
				valid[i] = true
			case int64:
				vals[i] = fmt.Sprintf("%d", v)
				valid[i] = true
			case bool:
				vals[i] = fmt.Sprintf("%t", v)
				valid[i] = true
			}
		}
		return frame.NewString(vals, valid)
	case hasNumber && (!integral || hasBool):
		vals := make([]float64, n)
		for i, row := range rows {
			switch v := row[name].(type) {
			case float64:
				vals[i] = v
				valid[i] = true
			case int64:
				vals[i] = float64(v)
				valid[i] = true
			case bool:
				if v {
					vals[i] = 1
				}
				valid[i] = true
			}
		}
		return frame.NewFloat(vals, valid)
	case hasNumber:
		vals := make([]int64, n)
		for i, row := range rows {
			switch v := row[name].(type) {
			case float64:
				vals[i] = int64(v)
				valid[i] = true
			case int64:
				vals[i] = v
				valid[i] = true
			}
		}
		return frame.NewInt(vals, valid)
	case hasBool:
		vals := make([]bool, n)
		for i, row := range rows {
			if v, ok := row[name].(bool); ok {
				vals[i] = v
				valid[i] = true
			}
		}
		return frame.NewBool(vals, valid)
	default:
		return frame.NewNull(frame.KindFloat, n)
	}
}

func fillSentinels(s *frame.Series) {
	for i := 0; i < s.Len(); i++ {
		if s.IsValid(i) {
			continue
		}
		if s.Kind() == frame.KindInt {
			s.SetInt(i, frame.IntNull)
		} else {
			s.SetFloat(i, frame.FloatNull)
		}
	}
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%v", v)
}

func cloneRow(src map[string]any) map[string]any {
	row := make(map[string]any, len(src)+6)
	for k, v := range src {
		row[k] = v
	}
	return row
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
