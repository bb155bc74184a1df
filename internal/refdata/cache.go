package refdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/persistence"
)

// CachedSource is a read-through Redis cache in front of a reference source.
// Cache failures degrade to a direct fetch; stale reads are bounded by the
// TTL and by the AsOf pin being part of the key.
type CachedSource struct {
	next persistence.ReferenceSource
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedSource wraps a reference source with a Redis cache.
func NewCachedSource(next persistence.ReferenceSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedSource) FetchTable(ctx context.Context, q persistence.TableQuery) ([]persistence.Row, error) {
	key, err := cacheKey(q)
	if err != nil {
		return nil, err
	}

	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var rows []persistence.Row
		if err := json.Unmarshal(payload, &rows); err == nil {
			return rows, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable reference cache entry")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("table", q.Table).Msg("reference cache read failed")
	}

	rows, err := c.next.FetchTable(ctx, q)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rows); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("table", q.Table).Msg("reference cache write failed")
		}
	}
	return rows, nil
}

// cacheKey digests the whole query so that any variation in columns, ids or
// temporal pins addresses a distinct entry.
func cacheKey(q persistence.TableQuery) (string, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to build cache key for %s: %w", q.Table, err)
	}
	sum := sha256.Sum256(payload)
	return "refdata:" + hex.EncodeToString(sum[:]), nil
}
