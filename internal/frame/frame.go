package frame

import (
	"fmt"
	"strings"
)

// Frame is a column-ordered relation. Columns are only ever added or replaced
// wholesale; row data is never edited through the Frame itself.
type Frame struct {
	names []string
	cols  map[string]*Series
	rows  int
}

// New returns an empty frame with a fixed row count.
func New(rows int) *Frame {
	return &Frame{cols: make(map[string]*Series), rows: rows}
}

// NumRows reports the row count.
func (f *Frame) NumRows() int { return f.rows }

// Names returns the column names in insertion order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the named column, or nil if absent.
func (f *Frame) Column(name string) *Series {
	return f.cols[name]
}

// SetColumn adds or replaces a column. The series length must match the frame.
func (f *Frame) SetColumn(name string, s *Series) error {
	if s.Len() != f.rows {
		return fmt.Errorf("column %q has %d entries, frame has %d rows", name, s.Len(), f.rows)
	}
	if _, exists := f.cols[name]; !exists {
		f.names = append(f.names, name)
	}
	f.cols[name] = s
	return nil
}

// GroupKey renders the key-tuple of row i over the given key columns.
// Missing columns contribute a null token, so grouping never fails on a
// column that was absent from the request.
func (f *Frame) GroupKey(keys []string, i int) string {
	parts := make([]string, len(keys))
	for k, name := range keys {
		col := f.cols[name]
		if col == nil {
			parts[k] = "\x00null"
			continue
		}
		parts[k] = col.keyToken(i)
	}
	return strings.Join(parts, "\x1f")
}

// GroupSums sums value(i) per key-tuple over all rows where value reports ok.
func (f *Frame) GroupSums(keys []string, value func(i int) (float64, bool)) map[string]float64 {
	sums := make(map[string]float64)
	for i := 0; i < f.rows; i++ {
		v, ok := value(i)
		if !ok {
			continue
		}
		sums[f.GroupKey(keys, i)] += v
	}
	return sums
}

// RowIndex builds a first-match index from key-tuple to row number.
func (f *Frame) RowIndex(keys []string) map[string]int {
	idx := make(map[string]int, f.rows)
	for i := 0; i < f.rows; i++ {
		k := f.GroupKey(keys, i)
		if _, seen := idx[k]; !seen {
			idx[k] = i
		}
	}
	return idx
}

// DistinctStrings returns the distinct, non-null values of a column rendered
// as strings, in first-seen order. Absent columns yield nil.
func (f *Frame) DistinctStrings(name string) []string {
	col := f.cols[name]
	if col == nil {
		return nil
	}
	seen := make(map[string]struct{}, f.rows)
	var out []string
	for i := 0; i < f.rows; i++ {
		if !col.IsValid(i) || col.IsSentinel(i) {
			continue
		}
		v := col.Str(i)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// LeftJoin adds src's columns (except its key) onto f, matching f's dstKey
// against src's srcKey. Unmatched rows get true nulls. Added columns are
// renamed with prefix; columns f already has are skipped.
func (f *Frame) LeftJoin(src *Frame, dstKey, srcKey, prefix string) error {
	if src == nil {
		return nil
	}
	srcIdx := src.RowIndex([]string{srcKey})
	match := make([]int, f.rows)
	matched := make([]bool, f.rows)
	for i := 0; i < f.rows; i++ {
		row, ok := srcIdx[f.GroupKey([]string{dstKey}, i)]
		match[i] = row
		matched[i] = ok
	}
	for _, name := range src.names {
		if name == srcKey {
			continue
		}
		outName := prefix + name
		if f.Has(outName) {
			continue
		}
		col := src.cols[name]
		var joined *Series
		if src.rows == 0 {
			joined = NewNull(col.Kind(), f.rows)
		} else {
			idx := make([]int, f.rows)
			for i := range idx {
				if matched[i] {
					idx[i] = match[i]
				}
			}
			joined = col.Gather(idx)
			for i := 0; i < f.rows; i++ {
				if !matched[i] {
					joined.SetNull(i)
				}
			}
		}
		if err := f.SetColumn(outName, joined); err != nil {
			return err
		}
	}
	return nil
}
