package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/fundlens/perspective/internal/criteria"
	"github.com/fundlens/perspective/internal/perspective"
)

// modifierFile is the operator-defined modifier document. It predates the
// main config and keeps its original yaml.v2 schema.
type modifierFile struct {
	Modifiers []rawModifier `yaml:"modifiers"`
}

type rawModifier struct {
	Name               string              `yaml:"name"`
	Type               string              `yaml:"type"`
	ApplyTo            string              `yaml:"apply_to"`
	RuleResultOperator string              `yaml:"rule_result_operator"`
	Overrides          []string            `yaml:"overrides"`
	RequiredColumns    map[string][]string `yaml:"required_columns"`
	Criteria           interface{}         `yaml:"criteria"`
}

// LoadModifiers reads extra modifiers from a YAML file.
func LoadModifiers(path string) ([]perspective.Modifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read modifier file: %w", err)
	}
	var file modifierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse modifier file: %w", err)
	}

	out := make([]perspective.Modifier, 0, len(file.Modifiers))
	for _, raw := range file.Modifiers {
		m, err := buildModifier(raw)
		if err != nil {
			return nil, fmt.Errorf("modifier %q: %w", raw.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func buildModifier(raw rawModifier) (perspective.Modifier, error) {
	if raw.Name == "" {
		return perspective.Modifier{}, fmt.Errorf("name is required")
	}
	m := perspective.Modifier{
		Name:               raw.Name,
		RuleResultOperator: raw.RuleResultOperator,
		Overrides:          raw.Overrides,
		RequiredColumns:    raw.RequiredColumns,
	}

	switch raw.Type {
	case "pre_processing", "":
		m.Type = perspective.PreProcessing
	case "post_processing":
		m.Type = perspective.PostProcessing
	case "scaling":
		m.Type = perspective.Scaling
	default:
		return perspective.Modifier{}, fmt.Errorf("unknown type %q", raw.Type)
	}

	applyTo := raw.ApplyTo
	if applyTo == "" {
		applyTo = "Both"
	}
	at, err := perspective.ParseApplyTo(applyTo)
	if err != nil {
		return perspective.Modifier{}, err
	}
	m.ApplyTo = at

	if raw.Criteria != nil {
		payload, err := json.Marshal(jsonify(raw.Criteria))
		if err != nil {
			return perspective.Modifier{}, fmt.Errorf("criteria: %w", err)
		}
		node, err := criteria.Parse(payload)
		if err != nil {
			return perspective.Modifier{}, fmt.Errorf("criteria: %w", err)
		}
		m.Criteria = node
	}
	if m.Type != perspective.Scaling && m.Criteria == nil && len(m.Overrides) == 0 {
		return perspective.Modifier{}, fmt.Errorf("criteria or overrides are required")
	}
	return m, nil
}

// jsonify rewrites yaml.v2's interface-keyed maps into string-keyed ones so
// the criteria can round-trip through JSON.
func jsonify(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = jsonify(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	default:
		return v
	}
}
