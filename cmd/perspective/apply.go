package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fundlens/perspective/internal/config"
	"github.com/fundlens/perspective/internal/engine"
	"github.com/fundlens/perspective/internal/persistence"
	"github.com/fundlens/perspective/internal/perspective"
)

func newApplyCmd() *cobra.Command {
	var perspectivesPath, modifiersPath string
	cmd := &cobra.Command{
		Use:   "apply <request.json>",
		Short: "Apply perspectives to one request offline",
		Long: `Runs a single request through the full pipeline without a database.
Perspective definitions come from a JSON file; reference-table joins are
unavailable, so requested modifiers must not need reference columns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			return runApply(cmd.Context(), args[0], perspectivesPath, modifiersPath)
		},
	}
	cmd.Flags().StringVarP(&perspectivesPath, "perspectives", "p", "", "JSON file of perspective definitions (required)")
	cmd.Flags().StringVarP(&modifiersPath, "modifiers", "m", "", "optional YAML file of extra modifiers")
	cmd.MarkFlagRequired("perspectives")
	return cmd
}

func runApply(ctx context.Context, requestPath, perspectivesPath, modifiersPath string) error {
	var extra []perspective.Modifier
	if modifiersPath != "" {
		var err error
		extra, err = config.LoadModifiers(modifiersPath)
		if err != nil {
			return err
		}
	}

	cfg, err := engine.Load(ctx, fileSource(perspectivesPath), extra...)
	if err != nil {
		return err
	}

	body, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	e := engine.New(cfg, offlineFetcher{}, nil)
	res, err := e.Apply(ctx, body)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// fileSource reads perspective definitions from a JSON file.
type fileSource string

func (f fileSource) LoadPerspectives(ctx context.Context) ([]perspective.RawPerspective, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read perspectives: %w", err)
	}
	var raws []perspective.RawPerspective
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse perspectives: %w", err)
	}
	return raws, nil
}

// offlineFetcher fails any reference fetch; offline runs carry all columns
// inline in the request.
type offlineFetcher struct{}

func (offlineFetcher) FetchAll(ctx context.Context, queries []persistence.TableQuery) (map[string][]persistence.Row, error) {
	tables := make([]string, len(queries))
	for i, q := range queries {
		tables[i] = q.Table
	}
	return nil, fmt.Errorf("reference tables %v are unavailable in offline mode", tables)
}
