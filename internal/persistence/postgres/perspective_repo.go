// Package postgres implements the persistence interfaces against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fundlens/perspective/internal/persistence"
	"github.com/fundlens/perspective/internal/perspective"
)

// perspectiveRepo loads perspective definitions and their ordered rules.
type perspectiveRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPerspectiveSource creates a PostgreSQL perspective source.
func NewPerspectiveSource(db *sqlx.DB, timeout time.Duration) persistence.PerspectiveSource {
	return &perspectiveRepo{db: db, timeout: timeout}
}

func (r *perspectiveRepo) LoadPerspectives(ctx context.Context) ([]perspective.RawPerspective, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, name, is_active, is_supported
		FROM perspectives
		ORDER BY id`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query perspectives: %w", err)
	}
	defer rows.Close()

	var out []perspective.RawPerspective
	index := make(map[int]int)
	for rows.Next() {
		var p perspective.RawPerspective
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.IsSupported); err != nil {
			return nil, fmt.Errorf("failed to scan perspective: %w", err)
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating perspectives: %w", err)
	}

	if err := r.loadRules(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

// loadRules attaches every perspective's rules in stored order.
func (r *perspectiveRepo) loadRules(ctx context.Context, out []perspective.RawPerspective, index map[int]int) error {
	query := `
		SELECT perspective_id, apply_to, criteria, condition_for_next_rule,
		       is_scaling_rule, scale_factor
		FROM perspective_rules
		ORDER BY perspective_id, rule_order`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query perspective rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pid      int
			criteria []byte
			connect  sql.NullString
			factor   sql.NullFloat64
			rule     perspective.RawRule
		)
		if err := rows.Scan(&pid, &rule.ApplyTo, &criteria, &connect,
			&rule.IsScalingRule, &factor); err != nil {
			return fmt.Errorf("failed to scan perspective rule: %w", err)
		}
		if len(criteria) > 0 {
			rule.Criteria = json.RawMessage(criteria)
		}
		if connect.Valid {
			rule.ConditionForNextRule = connect.String
		}
		if factor.Valid {
			v := factor.Float64
			rule.ScaleFactor = &v
		}
		i, ok := index[pid]
		if !ok {
			// Rules of deleted perspectives can linger; skip them.
			continue
		}
		out[i].Rules = append(out[i].Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating perspective rules: %w", err)
	}
	return nil
}
