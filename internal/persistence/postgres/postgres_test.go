package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundlens/perspective/internal/persistence"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestLoadPerspectivesAttachesOrderedRules(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery("SELECT id, name, is_active, is_supported").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active", "is_supported"}).
			AddRow(1, "liquid_only", true, true).
			AddRow(2, "retired", false, true))
	mock.ExpectQuery("SELECT perspective_id, apply_to, criteria").
		WillReturnRows(sqlmock.NewRows([]string{
			"perspective_id", "apply_to", "criteria", "condition_for_next_rule",
			"is_scaling_rule", "scale_factor"}).
			AddRow(1, "Both", []byte(`{"column":"liquidity_type_id","operator":"==","value":2}`), "Or", false, nil).
			AddRow(1, "Position", []byte(`{"column":"position_type","operator":"==","value":"holding"}`), nil, true, 50.0).
			AddRow(9, "Both", []byte(`{}`), nil, false, nil))

	src := NewPerspectiveSource(db, time.Second)
	raws, err := src.LoadPerspectives(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)

	require.Len(t, raws[0].Rules, 2, "rules keep their stored order")
	assert.Equal(t, "Or", raws[0].Rules[0].ConditionForNextRule)
	assert.Nil(t, raws[0].Rules[0].ScaleFactor)
	require.NotNil(t, raws[0].Rules[1].ScaleFactor)
	assert.Equal(t, 50.0, *raws[0].Rules[1].ScaleFactor)
	assert.True(t, raws[0].Rules[1].IsScalingRule)

	assert.Empty(t, raws[1].Rules, "orphan rules of unknown perspectives are skipped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPerspectivesQueryFailure(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery("SELECT id, name").WillReturnError(assert.AnError)

	_, err := NewPerspectiveSource(db, time.Second).LoadPerspectives(context.Background())
	assert.Error(t, err)
}

func TestFetchTableFiltersByInstrumentIDs(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`SELECT instrument_id, liquidity_type_id FROM instrument WHERE instrument_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"instrument_id", "liquidity_type_id"}).
			AddRow([]byte("i1"), int32(2)).
			AddRow([]byte("i2"), int32(9)))

	src := NewReferenceSource(db, time.Second)
	rows, err := src.FetchTable(context.Background(), persistence.TableQuery{
		Table:         "INSTRUMENT",
		Columns:       []string{"liquidity_type_id", "instrument_id"},
		InstrumentIDs: []string{"i1", "i2"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "i1", rows[0]["instrument_id"], "byte slices come back as strings")
	assert.Equal(t, int64(2), rows[0]["liquidity_type_id"], "narrow ints widen")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchTableParentInstrumentAliasesToInstrument(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`SELECT instrument_id FROM instrument WHERE instrument_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"instrument_id"}).AddRow([]byte("i9")))

	src := NewReferenceSource(db, time.Second)
	rows, err := src.FetchTable(context.Background(), persistence.TableQuery{
		Table:         persistence.ParentInstrumentTable,
		InstrumentIDs: []string{"i9"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchTableTemporalPins(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`AND effective_date = \$2 AND valid_from <= \$3 AND \(valid_to IS NULL OR valid_to > \$3\)`).
		WithArgs(sqlmock.AnyArg(), "2026-08-25", "2026-08-25T10:00:00Z").
		WillReturnRows(sqlmock.NewRows([]string{"instrument_id"}))

	src := NewReferenceSource(db, time.Second)
	_, err := src.FetchTable(context.Background(), persistence.TableQuery{
		Table:         "rating",
		InstrumentIDs: []string{"i1"},
		EffectiveDate: "2026-08-25",
		AsOf:          "2026-08-25T10:00:00Z",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchTableRejectsUnsafeIdentifiers(t *testing.T) {
	db, _ := mockDB(t)
	src := NewReferenceSource(db, time.Second)

	_, err := src.FetchTable(context.Background(), persistence.TableQuery{
		Table: "instrument; DROP TABLE instrument"})
	assert.Error(t, err)

	_, err = src.FetchTable(context.Background(), persistence.TableQuery{
		Table: "instrument", Columns: []string{"liquidity_type_id, secret"}})
	assert.Error(t, err)
}
