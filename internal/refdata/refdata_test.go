package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundlens/perspective/internal/persistence"
)

type sourceFunc func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error)

func (f sourceFunc) FetchTable(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
	return f(ctx, q)
}

func TestFetchAllRunsEveryTable(t *testing.T) {
	var calls int64
	src := sourceFunc(func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
		atomic.AddInt64(&calls, 1)
		return []persistence.Row{{"instrument_id": "i1", "table": q.Table}}, nil
	})

	f := NewFetcher(src, DefaultFetcherConfig())
	out, err := f.FetchAll(context.Background(), []persistence.TableQuery{
		{Table: "instrument"},
		{Table: "rating"},
		{Table: persistence.ParentInstrumentTable},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls)
	require.Len(t, out, 3)
	assert.Equal(t, "rating", out["rating"][0]["table"])
}

func TestFetchAllAbortsOnAnyFailure(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
		if q.Table == "rating" {
			return nil, errors.New("connection reset")
		}
		return []persistence.Row{{"instrument_id": "i1"}}, nil
	})

	f := NewFetcher(src, DefaultFetcherConfig())
	_, err := f.FetchAll(context.Background(), []persistence.TableQuery{
		{Table: "instrument"}, {Table: "rating"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
		return nil, errors.New("down")
	})

	cfg := DefaultFetcherConfig()
	cfg.ConsecutiveFailures = 2
	f := NewFetcher(src, cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.FetchAll(ctx, []persistence.TableQuery{{Table: "instrument"}})
		require.Error(t, err)
	}
	_, err := f.FetchAll(ctx, []persistence.TableQuery{{Table: "instrument"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "breaker short-circuits after the threshold")
}

func TestCachedSourceMissThenHit(t *testing.T) {
	rows := []persistence.Row{{"instrument_id": "i1", "liquidity_type_id": float64(2)}}
	payload, err := json.Marshal(rows)
	require.NoError(t, err)

	query := persistence.TableQuery{Table: "instrument", InstrumentIDs: []string{"i1"}}
	key, err := cacheKey(query)
	require.NoError(t, err)

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, payload, time.Minute).SetVal("OK")
	mock.ExpectGet(key).SetVal(string(payload))

	var calls int
	src := sourceFunc(func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
		calls++
		return rows, nil
	})
	cached := NewCachedSource(src, rdb, time.Minute)

	got, err := cached.FetchTable(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	got, err = cached.FetchTable(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
	assert.Equal(t, 1, calls, "second fetch is served from cache")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedSourceDegradesWhenRedisFails(t *testing.T) {
	rows := []persistence.Row{{"instrument_id": "i1"}}
	query := persistence.TableQuery{Table: "instrument"}
	key, err := cacheKey(query)
	require.NoError(t, err)

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(key).SetErr(errors.New("redis down"))
	mock.ExpectSet(key, mustMarshal(t, rows), time.Minute).SetErr(errors.New("redis down"))

	src := sourceFunc(func(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
		return rows, nil
	})
	got, err := NewCachedSource(src, rdb, time.Minute).FetchTable(context.Background(), query)
	require.NoError(t, err, "cache failures never fail the fetch")
	assert.Equal(t, rows, got)
}

func TestCacheKeyVariesWithTemporalPins(t *testing.T) {
	base := persistence.TableQuery{Table: "instrument", InstrumentIDs: []string{"i1"}}
	pinned := base
	pinned.AsOf = "2026-08-25T10:00:00Z"

	k1, err := cacheKey(base)
	require.NoError(t, err)
	k2, err := cacheKey(pinned)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return payload
}
