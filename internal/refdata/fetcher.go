// Package refdata wraps the reference source with the operational layers a
// request fan-out needs: parallel per-table fetching, circuit breaking, rate
// limiting and a Redis cache.
package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fundlens/perspective/internal/persistence"
)

// FetcherConfig tunes the breaker and limiter in front of the database.
type FetcherConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	RatePerSecond       float64
	Burst               int
}

// DefaultFetcherConfig returns conservative production defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		RatePerSecond:       50,
		Burst:               10,
	}
}

// Fetcher issues one query per reference table in parallel. Each round trip
// is independent, so the only bound is the number of distinct tables.
type Fetcher struct {
	src     persistence.ReferenceSource
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewFetcher wires the fetch fan-out around a reference source.
func NewFetcher(src persistence.ReferenceSource, cfg FetcherConfig) *Fetcher {
	failures := cfg.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        "refdata",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("reference fetch breaker state change")
		},
	}
	return &Fetcher{
		src:     src,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// FetchAll runs every query concurrently and returns rows keyed by the
// query's table name. Any single failure aborts the whole batch: downstream
// joins assume complete reference data.
func (f *Fetcher) FetchAll(ctx context.Context, queries []persistence.TableQuery) (map[string][]persistence.Row, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		table string
		rows  []persistence.Row
		err   error
	}
	results := make(chan result, len(queries))
	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q persistence.TableQuery) {
			defer wg.Done()
			rows, err := f.fetchOne(ctx, q)
			results <- result{table: q.Table, rows: rows, err: err}
		}(q)
	}
	wg.Wait()
	close(results)

	out := make(map[string][]persistence.Row, len(queries))
	for r := range results {
		if r.err != nil {
			cancel()
			return nil, fmt.Errorf("reference table %s: %w", r.table, r.err)
		}
		out[r.table] = r.rows
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	rows, err := f.breaker.Execute(func() (interface{}, error) {
		return f.src.FetchTable(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("table", q.Table).
		Int("rows", len(rows.([]persistence.Row))).
		Dur("elapsed", time.Since(started)).
		Msg("fetched reference table")
	return rows.([]persistence.Row), nil
}
