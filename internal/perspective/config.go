package perspective

import (
	"fmt"
)

// Config is the process-scoped perspective/modifier registry. It is loaded
// once at engine construction and safe for concurrent reads; request-time
// custom perspectives merge into a shallow copy, never into the shared
// instance.
type Config struct {
	perspectives map[int]Perspective
	modifiers    map[string]Modifier
	defaults     []string
}

// Perspective looks up a perspective by id.
func (c *Config) Perspective(id int) (Perspective, bool) {
	p, ok := c.perspectives[id]
	return p, ok
}

// Modifier looks up a modifier by name.
func (c *Config) Modifier(name string) (Modifier, bool) {
	m, ok := c.modifiers[name]
	return m, ok
}

// PerspectiveIDs returns the loaded perspective ids (unordered).
func (c *Config) PerspectiveIDs() []int {
	out := make([]int, 0, len(c.perspectives))
	for id := range c.perspectives {
		out = append(out, id)
	}
	return out
}

// DefaultModifiers returns the always-active modifier names.
func (c *Config) DefaultModifiers() []string {
	return append([]string(nil), c.defaults...)
}

// ActiveModifiers resolves the modifiers in force for one perspective
// application: the requested names unioned with the defaults, minus every
// name suppressed by another active modifier's override list. Unknown names
// are a configuration error.
func (c *Config) ActiveModifiers(requested []string) ([]Modifier, error) {
	names := make([]string, 0, len(requested)+len(c.defaults))
	seen := make(map[string]struct{})
	for _, n := range append(append([]string(nil), requested...), c.defaults...) {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}

	overridden := make(map[string]struct{})
	for _, n := range names {
		m, ok := c.modifiers[n]
		if !ok {
			return nil, fmt.Errorf("unknown modifier %q", n)
		}
		for _, o := range m.Overrides {
			overridden[o] = struct{}{}
		}
	}

	var active []Modifier
	for _, n := range names {
		if _, gone := overridden[n]; gone {
			continue
		}
		active = append(active, c.modifiers[n])
	}
	return active, nil
}

// RequiredColumnsFor unions the reference-column requirements of the named
// modifiers, de-duplicated and order-preserving.
func (c *Config) RequiredColumnsFor(names []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, n := range names {
		m, ok := c.modifiers[n]
		if !ok {
			return nil, fmt.Errorf("unknown modifier %q", n)
		}
		mergeColumns(out, m.RequiredColumns)
	}
	return out, nil
}

// WithCustom returns a copy of the config with request-scoped custom
// perspectives merged in. Downstream components cannot tell custom from
// persisted perspectives.
func (c *Config) WithCustom(customs map[int]Perspective) *Config {
	if len(customs) == 0 {
		return c
	}
	merged := &Config{
		perspectives: make(map[int]Perspective, len(c.perspectives)+len(customs)),
		modifiers:    c.modifiers,
		defaults:     c.defaults,
	}
	for id, p := range c.perspectives {
		merged.perspectives[id] = p
	}
	for id, p := range customs {
		merged.perspectives[id] = p
	}
	return merged
}
