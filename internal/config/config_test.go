package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundlens/perspective/internal/criteria"
	"github.com/fundlens/perspective/internal/perspective"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
  request_timeout: 10s
postgres:
  dsn: postgres://localhost/perspective
redis:
  enabled: true
  addr: 127.0.0.1:6380
logging:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Postgres.QueryTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRequiresDSN(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  port: 8080\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 99999
postgres:
  dsn: postgres://localhost/perspective
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadModifiers(t *testing.T) {
	path := writeFile(t, "modifiers.yaml", `
modifiers:
  - name: exclude_watchlist_instruments
    type: pre_processing
    apply_to: Both
    required_columns:
      INSTRUMENT: [watchlist_id]
    criteria:
      column: watchlist_id
      operator: "=="
      value: 4
  - name: include_watchlist_instruments
    type: post_processing
    rule_result_operator: and
    overrides: [exclude_watchlist_instruments]
`)

	mods, err := LoadModifiers(path)
	require.NoError(t, err)
	require.Len(t, mods, 2)

	m := mods[0]
	assert.Equal(t, "exclude_watchlist_instruments", m.Name)
	assert.Equal(t, perspective.PreProcessing, m.Type)
	assert.Equal(t, perspective.ApplyBoth, m.ApplyTo)
	assert.Equal(t, map[string][]string{"INSTRUMENT": {"watchlist_id"}}, m.RequiredColumns)
	require.NotNil(t, m.Criteria)
	assert.Equal(t, criteria.KindLeaf, m.Criteria.Kind)
	assert.Equal(t, "watchlist_id", m.Criteria.Column)

	assert.Equal(t, perspective.PostProcessing, mods[1].Type)
	assert.Equal(t, []string{"exclude_watchlist_instruments"}, mods[1].Overrides)
}

func TestLoadModifiersNestedCriteria(t *testing.T) {
	path := writeFile(t, "modifiers.yaml", `
modifiers:
  - name: exclude_unrated
    criteria:
      and:
        - column: rating_id
          operator: IsNull
        - column: rating_id
          operator: "!="
          value: 0
`)
	mods, err := LoadModifiers(path)
	require.NoError(t, err)
	require.NotNil(t, mods[0].Criteria)
	assert.Equal(t, criteria.KindAnd, mods[0].Criteria.Kind)
	assert.Len(t, mods[0].Criteria.Children, 2)
}

func TestLoadModifiersValidation(t *testing.T) {
	path := writeFile(t, "modifiers.yaml", `
modifiers:
  - name: broken
    type: sideways
`)
	_, err := LoadModifiers(path)
	assert.Error(t, err)

	path = writeFile(t, "modifiers2.yaml", `
modifiers:
  - name: empty_pre
    type: pre_processing
`)
	_, err = LoadModifiers(path)
	require.Error(t, err, "non-scaling modifiers need criteria or overrides")

	path = writeFile(t, "modifiers3.yaml", `
modifiers:
  - type: pre_processing
`)
	_, err = LoadModifiers(path)
	assert.Error(t, err, "name is required")
}
