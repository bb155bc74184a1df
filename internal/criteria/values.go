package criteria

import (
	"strconv"
	"strings"
)

// perspectiveIDToken is the literal substituted with the perspective under
// evaluation wherever it appears inside a criteria value.
const perspectiveIDToken = "perspective_id"

// substitutePerspectiveID replaces the perspective_id token inside string
// values. Non-string values pass through untouched.
func substitutePerspectiveID(value any, perspectiveID int) any {
	s, ok := value.(string)
	if !ok || !strings.Contains(s, perspectiveIDToken) {
		return value
	}
	return strings.ReplaceAll(s, perspectiveIDToken, strconv.Itoa(perspectiveID))
}

// parseScalar coerces a leaf value for direct comparison: numbers stay
// numeric, numeric-looking strings become numbers, everything else compares
// as a trimmed string.
func parseScalar(value any) (float64, string, bool) {
	switch v := value.(type) {
	case float64:
		return v, "", true
	case int:
		return float64(v), "", true
	case bool:
		if v {
			return 1, "", true
		}
		return 0, "", true
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, "", true
		}
		return 0, s, false
	default:
		return 0, "", false
	}
}

// parseList decodes In/NotIn membership values. Accepts decoded JSON arrays
// and python-literal-like strings such as "(1,2,3)" or "[1, 'x']". Each item
// coerces to a number when numeric-looking, else stays a trimmed,
// quote-stripped string.
func parseList(value any) []any {
	switch v := value.(type) {
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, coerceItem(item))
		}
		return out
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "(")
		s = strings.TrimSuffix(s, ")")
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, coerceItem(p))
		}
		return out
	default:
		return nil
	}
}

func coerceItem(item any) any {
	switch v := item.(type) {
	case string:
		s := strings.TrimSpace(v)
		s = strings.Trim(s, `'"`)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case float64:
		return v
	default:
		return v
	}
}

// rangeEncodingPrefix marks a string-encoded Between range: "fncriteria:<a>:<b>".
const rangeEncodingPrefix = "fncriteria"

// parseRange decodes Between/NotBetween bounds from either the fncriteria
// string encoding or a 2-element list. Malformed input falls back to [0,0],
// matching the long-standing loader behavior.
func parseRange(value any) (float64, float64) {
	switch v := value.(type) {
	case string:
		parts := strings.Split(v, ":")
		if len(parts) == 3 && parts[0] == rangeEncodingPrefix {
			lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if errLo == nil && errHi == nil {
				return lo, hi
			}
		}
	case []any:
		if len(v) == 2 {
			lo, okLo := toFloat(v[0])
			hi, okHi := toFloat(v[1])
			if okLo && okHi {
				return lo, hi
			}
		}
	}
	return 0, 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
