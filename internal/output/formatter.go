// Package output reshapes collected factor columns into the nested response:
// configuration -> perspective -> container -> relation blocks of per-identifier
// weighted values, with optional removal summaries and flattened columnar form.
package output

import (
	"fmt"
	"strconv"

	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/ingest"
	"github.com/fundlens/perspective/internal/processor"
)

// PositionsKey labels the position block inside a container; lookthrough
// blocks are labelled by their record type instead.
const PositionsKey = "positions"

// Verbose-mode keys inside a container block.
const (
	RemovedSummaryKey = "removed_positions_weight_summary"
	ScaleFactorsKey   = "scale_factors"
)

// Entries maps identifier to weight label to value, the innermost shape of a
// non-flattened block.
type Entries map[string]map[string]float64

// Formatter turns collected frames into the response document.
type Formatter struct {
	posWeights []string
	ltWeights  []string
	verbose    bool
	flatten    bool
}

// New wires a formatter. ltWeights falls back to posWeights when empty.
func New(posWeights, ltWeights []string, verbose, flatten bool) *Formatter {
	if len(ltWeights) == 0 {
		ltWeights = posWeights
	}
	return &Formatter{posWeights: posWeights, ltWeights: ltWeights, verbose: verbose, flatten: flatten}
}

// Format builds the per-configuration result for every pair. The frames must
// already be collected; lt may be nil.
func (f *Formatter) Format(pos, lt *frame.Frame, pairs []processor.Pair) (map[string]any, error) {
	configs := make(map[string]any)
	for _, pair := range pairs {
		perContainer := make(map[string]map[string]any)
		block := func(container string) map[string]any {
			b, ok := perContainer[container]
			if !ok {
				b = make(map[string]any)
				perContainer[container] = b
			}
			return b
		}

		posKept, posRemoved, rawKept, err := f.splitPositions(pos, pair.FactorColumn)
		if err != nil {
			return nil, fmt.Errorf("configuration %q perspective %d: %w", pair.Config, pair.PerspectiveID, err)
		}
		for container, entries := range posKept {
			block(container)[PositionsKey] = f.render(entries)
		}
		if lt != nil {
			ltKept, ltRemoved, err := f.splitLookthroughs(lt, pair.FactorColumn)
			if err != nil {
				return nil, fmt.Errorf("configuration %q perspective %d: %w", pair.Config, pair.PerspectiveID, err)
			}
			for key, entries := range ltKept {
				block(key.container)[key.recordType] = f.render(entries)
			}
			if f.verbose {
				for key, entries := range ltRemoved {
					summary(block(key.container))[key.recordType] = f.render(entries)
				}
			}
		}
		if f.verbose {
			for container, entries := range posRemoved {
				summary(block(container))[PositionsKey] = f.render(entries)
				// Kept raw weights surface only where something was removed.
				if kept, ok := rawKept[container]; ok {
					block(container)[ScaleFactorsKey] = kept
				}
			}
		}

		perConfig, ok := configs[pair.Config].(map[string]any)
		if !ok {
			perConfig = make(map[string]any)
			configs[pair.Config] = perConfig
		}
		flat := make(map[string]any, len(perContainer))
		for container, b := range perContainer {
			flat[container] = b
		}
		perConfig[strconv.Itoa(pair.PerspectiveID)] = flat
	}
	return map[string]any{"perspective_configurations": configs}, nil
}

func summary(block map[string]any) map[string]any {
	s, ok := block[RemovedSummaryKey].(map[string]any)
	if !ok {
		s = make(map[string]any)
		block[RemovedSummaryKey] = s
	}
	return s
}

// splitPositions partitions position rows by container into kept entries
// (weight*factor per label), individually listed removed entries (raw weight),
// and the per-container raw kept-weight sums used for scale factor reporting.
func (f *Formatter) splitPositions(pos *frame.Frame, factorCol string) (kept, removed map[string]Entries, rawKept map[string]map[string]float64, err error) {
	fc := pos.Column(factorCol)
	if fc == nil {
		return nil, nil, nil, fmt.Errorf("factor column %q was never computed", factorCol)
	}
	container := pos.Column(ingest.ColContainer)
	id := pos.Column(ingest.ColIdentifier)
	weights, err := weightColumns(pos, f.posWeights)
	if err != nil {
		return nil, nil, nil, err
	}

	kept = make(map[string]Entries)
	removed = make(map[string]Entries)
	rawKept = make(map[string]map[string]float64)
	for i := 0; i < pos.NumRows(); i++ {
		c := container.Str(i)
		values := make(map[string]float64, len(weights))
		if fc.IsValid(i) {
			for label, w := range weights {
				if w.IsValid(i) {
					values[label] = w.Float(i) * fc.Float(i)
				}
			}
			addEntry(kept, c, id.Str(i), values)
			sums, ok := rawKept[c]
			if !ok {
				sums = make(map[string]float64, len(weights))
				rawKept[c] = sums
			}
			for label, w := range weights {
				if w.IsValid(i) {
					sums[label] += w.Float(i)
				}
			}
			continue
		}
		for label, w := range weights {
			if w.IsValid(i) {
				values[label] = w.Float(i)
			}
		}
		addEntry(removed, c, id.Str(i), values)
	}
	// Raw kept sums only matter for containers with at least one removal.
	for c := range rawKept {
		if _, hadRemoval := removed[c]; !hadRemoval {
			delete(rawKept, c)
		}
	}
	return kept, removed, rawKept, nil
}

type ltKey struct {
	container  string
	recordType string
}

// splitLookthroughs partitions lookthrough rows by (container, record type).
// Removed rows aggregate by parent instrument rather than listing each child.
func (f *Formatter) splitLookthroughs(lt *frame.Frame, factorCol string) (kept, removed map[ltKey]Entries, err error) {
	fc := lt.Column(factorCol)
	if fc == nil {
		return nil, nil, fmt.Errorf("factor column %q was never computed", factorCol)
	}
	container := lt.Column(ingest.ColContainer)
	recordType := lt.Column(ingest.ColRecordType)
	id := lt.Column(ingest.ColIdentifier)
	parent := lt.Column(ingest.ColParentInstrumentID)
	weights, err := weightColumns(lt, f.ltWeights)
	if err != nil {
		return nil, nil, err
	}

	kept = make(map[ltKey]Entries)
	removed = make(map[ltKey]Entries)
	for i := 0; i < lt.NumRows(); i++ {
		key := ltKey{container: container.Str(i), recordType: recordType.Str(i)}
		if fc.IsValid(i) {
			values := make(map[string]float64, len(weights))
			for label, w := range weights {
				if w.IsValid(i) {
					values[label] = w.Float(i) * fc.Float(i)
				}
			}
			entries, ok := kept[key]
			if !ok {
				entries = make(Entries)
				kept[key] = entries
			}
			entries[id.Str(i)] = values
			continue
		}
		entries, ok := removed[key]
		if !ok {
			entries = make(Entries)
			removed[key] = entries
		}
		sums, ok := entries[parent.Str(i)]
		if !ok {
			sums = make(map[string]float64, len(weights))
			entries[parent.Str(i)] = sums
		}
		for label, w := range weights {
			if w.IsValid(i) {
				sums[label] += w.Float(i)
			}
		}
	}
	return kept, removed, nil
}

func addEntry(byContainer map[string]Entries, container, id string, values map[string]float64) {
	entries, ok := byContainer[container]
	if !ok {
		entries = make(Entries)
		byContainer[container] = entries
	}
	entries[id] = values
}

func weightColumns(f *frame.Frame, labels []string) (map[string]*frame.Series, error) {
	out := make(map[string]*frame.Series, len(labels))
	for _, label := range labels {
		s := f.Column(label)
		if s == nil {
			return nil, fmt.Errorf("weight label %q not present in request data", label)
		}
		out[label] = s
	}
	return out, nil
}

// render emits one block, flattened to columnar arrays when requested.
func (f *Formatter) render(entries Entries) any {
	if !f.flatten {
		return entries
	}
	return Flatten(entries)
}
