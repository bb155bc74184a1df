package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fundlens/perspective/internal/persistence"
)

// InstrumentTable backs the PARENT_INSTRUMENT pseudo-table: the same rows
// fetched again under the lookthrough parent join key.
const InstrumentTable = "instrument"

// identPattern limits table and column names to plain SQL identifiers, since
// they are interpolated rather than bound.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// referenceRepo fetches reference-table rows keyed by instrument_id.
type referenceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReferenceSource creates a PostgreSQL reference source.
func NewReferenceSource(db *sqlx.DB, timeout time.Duration) persistence.ReferenceSource {
	return &referenceRepo{db: db, timeout: timeout}
}

func (r *referenceRepo) FetchTable(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	table := strings.ToLower(q.Table)
	if q.Table == persistence.ParentInstrumentTable {
		table = InstrumentTable
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid reference table name %q", q.Table)
	}
	cols := make([]string, 0, len(q.Columns)+1)
	cols = append(cols, "instrument_id")
	for _, c := range q.Columns {
		if !identPattern.MatchString(c) {
			return nil, fmt.Errorf("invalid reference column name %q", c)
		}
		if c == "instrument_id" {
			continue
		}
		cols = append(cols, c)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE instrument_id = ANY($1)",
		strings.Join(cols, ", "), table)
	args := []any{pq.Array(q.InstrumentIDs)}
	if q.EffectiveDate != "" {
		args = append(args, q.EffectiveDate)
		query += fmt.Sprintf(" AND effective_date = $%d", len(args))
	}
	if q.AsOf != "" {
		args = append(args, q.AsOf)
		query += fmt.Sprintf(" AND valid_from <= $%d AND (valid_to IS NULL OR valid_to > $%d)",
			len(args), len(args))
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference table %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []persistence.Row
	for rows.Next() {
		row := make(persistence.Row)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan reference row from %s: %w", q.Table, err)
		}
		normalizeRow(row)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reference table %s: %w", q.Table, err)
	}
	return out, nil
}

// normalizeRow rewrites driver-native values into the generic forms the
// ingestion layer builds columns from.
func normalizeRow(row persistence.Row) {
	for k, v := range row {
		switch t := v.(type) {
		case []byte:
			row[k] = string(t)
		case int32:
			row[k] = int64(t)
		case time.Time:
			row[k] = t.Format("2006-01-02")
		}
	}
}
