// Package ingest turns the nested request JSON into the two tabular
// relations the processor runs over, and joins externally fetched reference
// columns onto them.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fundlens/perspective/internal/perspective"
)

// Container is one top-level portfolio entry of the request: a mapping that
// carries position_type, a positions block, and any number of lookthrough
// blocks.
type Container struct {
	PositionType string
	Positions    map[string]map[string]any
	// Lookthroughs maps record_type (the request key, e.g.
	// "essential_lookthroughs") to id -> fields.
	Lookthroughs map[string]map[string]map[string]any
}

// Request is the decoded apply request.
type Request struct {
	PerspectiveConfigurations map[string]map[string][]string
	PositionWeightLabels      []string
	LookthroughWeightLabels   []string
	EffectiveDate             string
	SystemVersionTimestamp    string
	VerboseOutput             bool
	FlattenOutput             bool
	CustomPerspectiveRules    map[string]json.RawMessage
	Containers                map[string]Container
}

// reserved names a top-level key must not be treated as a container under.
var reservedKeys = map[string]struct{}{
	"perspective_configurations": {},
	"position_weight_labels":     {},
	"lookthrough_weight_labels":  {},
	"ed":                         {},
	"system_version_timestamp":   {},
	"verbose_output":             {},
	"flatten_output":             {},
	"custom_perspective_rules":   {},
}

// ParseRequest decodes and validates a request body. Violations are input
// errors (perspective.ErrInvalidRequest) raised before any data scan.
func ParseRequest(data []byte) (*Request, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", perspective.ErrInvalidRequest, err)
	}
	req := &Request{Containers: make(map[string]Container)}

	if err := decodeField(top, "perspective_configurations", &req.PerspectiveConfigurations); err != nil {
		return nil, err
	}
	if len(req.PerspectiveConfigurations) == 0 {
		return nil, fmt.Errorf("%w: perspective_configurations is required", perspective.ErrInvalidRequest)
	}
	if err := decodeField(top, "position_weight_labels", &req.PositionWeightLabels); err != nil {
		return nil, err
	}
	if len(req.PositionWeightLabels) == 0 {
		return nil, fmt.Errorf("%w: position_weight_labels is required", perspective.ErrInvalidRequest)
	}
	if err := decodeField(top, "lookthrough_weight_labels", &req.LookthroughWeightLabels); err != nil {
		return nil, err
	}
	if len(req.LookthroughWeightLabels) == 0 {
		req.LookthroughWeightLabels = req.PositionWeightLabels
	}
	if err := decodeField(top, "ed", &req.EffectiveDate); err != nil {
		return nil, err
	}
	if err := decodeField(top, "system_version_timestamp", &req.SystemVersionTimestamp); err != nil {
		return nil, err
	}
	if err := decodeField(top, "verbose_output", &req.VerboseOutput); err != nil {
		return nil, err
	}
	if err := decodeField(top, "flatten_output", &req.FlattenOutput); err != nil {
		return nil, err
	}
	if err := decodeField(top, "custom_perspective_rules", &req.CustomPerspectiveRules); err != nil {
		return nil, err
	}

	for key, raw := range top {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		container, ok, err := parseContainer(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: container %q: %v", perspective.ErrInvalidRequest, key, err)
		}
		if ok {
			req.Containers[key] = container
		}
	}
	return req, nil
}

func decodeField(top map[string]json.RawMessage, key string, dst any) error {
	raw, ok := top[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", perspective.ErrInvalidRequest, key, err)
	}
	return nil
}

// parseContainer decides whether a top-level value is a container: any
// mapping carrying position_type qualifies. Within it, keys containing the
// substring "lookthrough" with mapping values become lookthrough batches
// tagged with that key as their record_type.
func parseContainer(raw json.RawMessage) (Container, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Container{}, false, nil // scalars and arrays are not containers
	}
	ptRaw, ok := obj["position_type"]
	if !ok {
		return Container{}, false, nil
	}
	c := Container{Lookthroughs: make(map[string]map[string]map[string]any)}
	if err := json.Unmarshal(ptRaw, &c.PositionType); err != nil {
		return Container{}, false, fmt.Errorf("position_type: %v", err)
	}
	if posRaw, ok := obj["positions"]; ok {
		if err := json.Unmarshal(posRaw, &c.Positions); err != nil {
			return Container{}, false, fmt.Errorf("positions: %v", err)
		}
	}
	for key, val := range obj {
		if !strings.Contains(key, "lookthrough") {
			continue
		}
		var batch map[string]map[string]any
		if err := json.Unmarshal(val, &batch); err != nil {
			continue // non-mapping lookthrough keys are ignored
		}
		c.Lookthroughs[key] = batch
	}
	return c, true, nil
}
