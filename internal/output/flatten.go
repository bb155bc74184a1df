package output

import (
	"math"
	"sort"
	"strconv"
)

// flattenPrecision bounds float noise in columnar output.
const flattenPrecision = 13

// Flatten converts an identifier-keyed block into columnar arrays: one
// "identifier" array plus one value array per weight label, all aligned by
// index. Identifiers that parse as integers come back as ints, floats round
// to a fixed number of decimal places.
func Flatten(entries Entries) map[string]any {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	labels := map[string]struct{}{}
	for _, values := range entries {
		for label := range values {
			labels[label] = struct{}{}
		}
	}

	out := make(map[string]any, len(labels)+1)
	idCol := make([]any, len(ids))
	for i, id := range ids {
		idCol[i] = coerceIdentifier(id)
	}
	out["identifier"] = idCol
	for label := range labels {
		col := make([]any, len(ids))
		for i, id := range ids {
			if v, ok := entries[id][label]; ok {
				col[i] = roundTo(v, flattenPrecision)
			}
		}
		out[label] = col
	}
	return out
}

func coerceIdentifier(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
