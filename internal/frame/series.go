package frame

import (
	"fmt"
	"strconv"
)

// Sentinel values standing in for null in non-weight columns. The criteria
// compiler needs "missing" to be a comparable, orderable value, so ingestion
// fills numeric gaps with these instead of true nulls.
const (
	IntNull   int64   = -2147483648
	FloatNull float64 = -2147483648.49438
)

// Kind identifies the physical type of a Series.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Series is a single typed column with a validity mask. An entry with
// valid=false is a true null; sentinel-filled entries are valid and carry
// IntNull/FloatNull as ordinary values.
type Series struct {
	kind   Kind
	floats []float64
	ints   []int64
	strs   []string
	bools  []bool
	valid  []bool
}

// NewFloat builds a float series. A nil valid mask means all entries are valid.
func NewFloat(vals []float64, valid []bool) *Series {
	return &Series{kind: KindFloat, floats: vals, valid: normalizeMask(len(vals), valid)}
}

// NewInt builds an int series. A nil valid mask means all entries are valid.
func NewInt(vals []int64, valid []bool) *Series {
	return &Series{kind: KindInt, ints: vals, valid: normalizeMask(len(vals), valid)}
}

// NewString builds a string series. A nil valid mask means all entries are valid.
func NewString(vals []string, valid []bool) *Series {
	return &Series{kind: KindString, strs: vals, valid: normalizeMask(len(vals), valid)}
}

// NewBool builds a bool series. A nil valid mask means all entries are valid.
func NewBool(vals []bool, valid []bool) *Series {
	return &Series{kind: KindBool, bools: vals, valid: normalizeMask(len(vals), valid)}
}

func normalizeMask(n int, valid []bool) []bool {
	if valid != nil {
		return valid
	}
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// NewNull builds an all-null series of the given kind and length.
func NewNull(kind Kind, n int) *Series {
	s := &Series{kind: kind, valid: make([]bool, n)}
	switch kind {
	case KindFloat:
		s.floats = make([]float64, n)
	case KindInt:
		s.ints = make([]int64, n)
	case KindString:
		s.strs = make([]string, n)
	case KindBool:
		s.bools = make([]bool, n)
	}
	return s
}

// Kind reports the physical type of the series.
func (s *Series) Kind() Kind { return s.kind }

// Len reports the number of entries.
func (s *Series) Len() int { return len(s.valid) }

// IsValid reports whether entry i holds a value (false means true null).
func (s *Series) IsValid(i int) bool { return s.valid[i] }

// SetNull marks entry i as a true null.
func (s *Series) SetNull(i int) { s.valid[i] = false }

// Float returns entry i coerced to float64. Int values widen; bools map to
// 0/1. String series cannot be coerced and return 0.
func (s *Series) Float(i int) float64 {
	switch s.kind {
	case KindFloat:
		return s.floats[i]
	case KindInt:
		return float64(s.ints[i])
	case KindBool:
		if s.bools[i] {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// SetFloat overwrites entry i in a float series and marks it valid.
func (s *Series) SetFloat(i int, v float64) {
	s.floats[i] = v
	s.valid[i] = true
}

// SetInt overwrites entry i in an int series and marks it valid.
func (s *Series) SetInt(i int, v int64) {
	s.ints[i] = v
	s.valid[i] = true
}

// Str returns entry i as a string. Numeric entries are formatted so that
// string-typed criteria can still match numeric columns.
func (s *Series) Str(i int) string {
	switch s.kind {
	case KindString:
		return s.strs[i]
	case KindInt:
		return strconv.FormatInt(s.ints[i], 10)
	case KindFloat:
		return strconv.FormatFloat(s.floats[i], 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(s.bools[i])
	default:
		return ""
	}
}

// Bool returns entry i of a bool series.
func (s *Series) Bool(i int) bool { return s.bools[i] }

// IsNumeric reports whether the series holds floats or ints.
func (s *Series) IsNumeric() bool { return s.kind == KindFloat || s.kind == KindInt }

// IsSentinel reports whether entry i carries a null sentinel value.
func (s *Series) IsSentinel(i int) bool {
	switch s.kind {
	case KindInt:
		return s.ints[i] == IntNull
	case KindFloat:
		return s.floats[i] == FloatNull
	default:
		return false
	}
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	c := &Series{kind: s.kind}
	c.valid = append([]bool(nil), s.valid...)
	switch s.kind {
	case KindFloat:
		c.floats = append([]float64(nil), s.floats...)
	case KindInt:
		c.ints = append([]int64(nil), s.ints...)
	case KindString:
		c.strs = append([]string(nil), s.strs...)
	case KindBool:
		c.bools = append([]bool(nil), s.bools...)
	}
	return c
}

// Gather returns a new series holding the entries at the given row indexes.
func (s *Series) Gather(idx []int) *Series {
	c := &Series{kind: s.kind, valid: make([]bool, len(idx))}
	switch s.kind {
	case KindFloat:
		c.floats = make([]float64, len(idx))
	case KindInt:
		c.ints = make([]int64, len(idx))
	case KindString:
		c.strs = make([]string, len(idx))
	case KindBool:
		c.bools = make([]bool, len(idx))
	}
	for out, in := range idx {
		c.valid[out] = s.valid[in]
		switch s.kind {
		case KindFloat:
			c.floats[out] = s.floats[in]
		case KindInt:
			c.ints[out] = s.ints[in]
		case KindString:
			c.strs[out] = s.strs[in]
		case KindBool:
			c.bools[out] = s.bools[in]
		}
	}
	return c
}

// keyToken renders entry i for use inside a group/join key. Invalid entries
// share a dedicated token so nulls group together.
func (s *Series) keyToken(i int) string {
	if !s.valid[i] {
		return "\x00null"
	}
	return s.Str(i)
}

func (s *Series) String() string {
	return fmt.Sprintf("Series(%s, len=%d)", s.kind, s.Len())
}
