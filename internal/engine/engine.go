// Package engine orchestrates one apply request end to end: parse, resolve
// custom perspectives, fetch and join reference columns, build the combined
// lazy plan, collect it once, and shape the response.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/frame"
	"github.com/fundlens/perspective/internal/ingest"
	"github.com/fundlens/perspective/internal/metrics"
	"github.com/fundlens/perspective/internal/output"
	"github.com/fundlens/perspective/internal/persistence"
	"github.com/fundlens/perspective/internal/perspective"
	"github.com/fundlens/perspective/internal/processor"
)

// ReferenceFetcher runs a batch of reference-table queries; the refdata
// package provides the production implementation.
type ReferenceFetcher interface {
	FetchAll(ctx context.Context, queries []persistence.TableQuery) (map[string][]persistence.Row, error)
}

// Engine applies perspectives to request data. The perspective configuration
// is read-only after construction and safe for concurrent requests.
type Engine struct {
	cfg     *perspective.Config
	refs    ReferenceFetcher
	metrics *metrics.Registry
}

// New wires an engine. reg may be nil when metrics are not collected.
func New(cfg *perspective.Config, refs ReferenceFetcher, reg *metrics.Registry) *Engine {
	return &Engine{cfg: cfg, refs: refs, metrics: reg}
}

// Load reads the perspective definitions once and builds the shared
// configuration, including the builtin modifier table and any extras.
func Load(ctx context.Context, src persistence.PerspectiveSource, extra ...perspective.Modifier) (*perspective.Config, error) {
	raws, err := src.LoadPerspectives(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading perspectives: %w", err)
	}
	return perspective.NewConfig(raws, extra...)
}

// Apply runs the full pipeline for one request body.
func (e *Engine) Apply(ctx context.Context, body []byte) (map[string]any, error) {
	started := time.Now()
	res, err := e.apply(ctx, body)
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			e.metrics.RequestErrors.WithLabelValues(Classify(err)).Inc()
		}
		e.metrics.RequestDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := ingest.ParseRequest(body)
	if err != nil {
		return nil, err
	}
	customs, err := perspective.ParseCustoms(req.CustomPerspectiveRules)
	if err != nil {
		return nil, err
	}
	cfg := e.cfg.WithCustom(customs)

	configurations, err := parseConfigurations(req.PerspectiveConfigurations)
	if err != nil {
		return nil, err
	}

	pos, lt, err := ingest.BuildFrames(req)
	if err != nil {
		return nil, err
	}

	if err := e.joinReference(ctx, cfg, configurations, req, pos, lt); err != nil {
		return nil, err
	}

	pre, err := processor.Precompute(cfg, configurations, pos, lt)
	if err != nil {
		return nil, err
	}
	plan := frame.NewPlan(pos, lt)
	builder := processor.NewBuilder(cfg, pre,
		req.PositionWeightLabels[0], req.LookthroughWeightLabels[0])
	pairs, err := builder.Build(plan, configurations)
	if err != nil {
		return nil, err
	}
	if err := plan.Collect(); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.PerspectivesApplied.Add(float64(len(pairs)))
		e.metrics.RowsProcessed.WithLabelValues("positions").Add(float64(pos.NumRows()))
		if lt != nil {
			e.metrics.RowsProcessed.WithLabelValues("lookthroughs").Add(float64(lt.NumRows()))
		}
	}
	log.Debug().Int("pairs", len(pairs)).Int("positions", pos.NumRows()).
		Msg("collected perspective plan")

	formatter := output.New(req.PositionWeightLabels, req.LookthroughWeightLabels,
		req.VerboseOutput, req.FlattenOutput)
	return formatter.Format(pos, lt, pairs)
}

// joinReference resolves the reference tables the requested perspectives and
// modifiers need, fetches them in parallel and left-joins them on.
func (e *Engine) joinReference(ctx context.Context, cfg *perspective.Config, configurations map[string]map[int][]string, req *ingest.Request, pos, lt *frame.Frame) error {
	required, err := requiredColumns(cfg, configurations)
	if err != nil {
		return err
	}
	if len(required) == 0 {
		return nil
	}

	tables := make([]string, 0, len(required))
	for table := range required {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	queries := make([]persistence.TableQuery, 0, len(tables))
	for _, table := range tables {
		ids := ingest.InstrumentIDs(pos, lt)
		if table == persistence.ParentInstrumentTable {
			if lt == nil {
				continue
			}
			ids = ingest.ParentInstrumentIDs(lt)
		}
		queries = append(queries, persistence.TableQuery{
			Table:         table,
			Columns:       required[table],
			InstrumentIDs: ids,
			EffectiveDate: req.EffectiveDate,
			AsOf:          req.SystemVersionTimestamp,
		})
	}
	if len(queries) == 0 {
		return nil
	}

	fetched, err := e.refs.FetchAll(ctx, queries)
	if err != nil {
		return err
	}
	for _, q := range queries {
		if e.metrics != nil {
			e.metrics.ReferenceFetches.WithLabelValues(q.Table).Inc()
		}
		if err := ingest.ApplyReference(pos, lt, q.Table, fetched[q.Table]); err != nil {
			return err
		}
	}
	return nil
}

// requiredColumns unions the column hints of every requested perspective and
// its active modifiers, keyed by reference table.
func requiredColumns(cfg *perspective.Config, configurations map[string]map[int][]string) (map[string][]string, error) {
	merged := make(map[string]map[string]struct{})
	add := func(cols map[string][]string) {
		for table, names := range cols {
			set, ok := merged[table]
			if !ok {
				set = make(map[string]struct{})
				merged[table] = set
			}
			for _, n := range names {
				set[n] = struct{}{}
			}
		}
	}
	for _, perspectives := range configurations {
		for id, modNames := range perspectives {
			p, ok := cfg.Perspective(id)
			if !ok {
				return nil, fmt.Errorf("unknown perspective id %d", id)
			}
			add(p.RequiredColumns)
			active, err := cfg.ActiveModifiers(modNames)
			if err != nil {
				return nil, err
			}
			for _, m := range active {
				add(m.RequiredColumns)
			}
		}
	}
	out := make(map[string][]string, len(merged))
	for table, set := range merged {
		cols := make([]string, 0, len(set))
		for c := range set {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		out[table] = cols
	}
	return out, nil
}

// parseConfigurations converts the request's string-keyed perspective ids.
// Non-integer ids are input errors.
func parseConfigurations(raw map[string]map[string][]string) (map[string]map[int][]string, error) {
	out := make(map[string]map[int][]string, len(raw))
	for config, perspectives := range raw {
		ids := make(map[int][]string, len(perspectives))
		for idStr, mods := range perspectives {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("%w: perspective id %q in configuration %q is not an integer",
					perspective.ErrInvalidRequest, idStr, config)
			}
			ids[id] = mods
		}
		out[config] = ids
	}
	return out, nil
}

// Classify buckets an error for metrics and status mapping.
func Classify(err error) string {
	switch {
	case errors.Is(err, perspective.ErrInvalidRequest):
		return "input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
