// Package persistence declares the collaborator interfaces the engine
// consumes: the perspective source and the reference-table source. Concrete
// implementations live in the postgres subpackage; the refdata package layers
// caching, rate limiting and circuit breaking on top.
package persistence

import (
	"context"

	"github.com/fundlens/perspective/internal/perspective"
)

// Row is one reference-table record keyed by column name.
type Row = map[string]any

// ParentInstrumentTable is the pseudo-table that re-queries the instrument
// table under the lookthrough parent join key. Fetchers resolve it to the
// instrument table; ingestion joins it on parent_instrument_id and prefixes
// its columns with "parent_".
const ParentInstrumentTable = "PARENT_INSTRUMENT"

// TableQuery describes one reference-table fetch.
type TableQuery struct {
	// Table is the reference table name (or ParentInstrumentTable).
	Table string
	// Columns are the reference columns needed beyond the join key.
	Columns []string
	// InstrumentIDs filters the fetch to the instruments present in the
	// request.
	InstrumentIDs []string
	// EffectiveDate optionally pins the rows to a business date (YYYY-MM-DD).
	EffectiveDate string
	// AsOf optionally pins the fetch to a temporal system-version timestamp.
	AsOf string
}

// PerspectiveSource loads perspective definitions with their ordered rules.
type PerspectiveSource interface {
	LoadPerspectives(ctx context.Context) ([]perspective.RawPerspective, error)
}

// ReferenceSource fetches reference-table rows keyed by instrument_id. A
// failed fetch aborts the whole request; downstream joins assume
// completeness.
type ReferenceSource interface {
	FetchTable(ctx context.Context, q TableQuery) ([]Row, error)
}
