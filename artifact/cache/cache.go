// Package cache is a Redis read-through cache for completed results,
// and the deletion cascade's hook into Redis. Results are immutable
// once written, so cache entries never need invalidation except when
// the job itself is erased.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// storeName identifies this backend in deletion records.
const storeName = "cache"

// All keys are prefixed with "rexsyn:" to avoid collisions.
const keyPrefix = "rexsyn:"

// resultKey returns the key for a cached result: rexsyn:result:{jobID}
func resultKey(jobID id.JobID) string { return keyPrefix + "result:" + jobID.String() }

// jobPattern matches every key belonging to a job, whatever its kind.
func jobPattern(jobID id.JobID) string { return keyPrefix + "*:" + jobID.String() }

// Compile-time interface check.
var _ deletion.ArtifactStore = (*Cache)(nil)

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithTTL sets how long cached results live. Defaults to 24 hours.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Cache caches results in Redis and erases job keys on deletion.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a cache over an existing Redis client. The caller owns
// the client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		ttl:    24 * time.Hour,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the backend in deletion records and logs.
func (c *Cache) Name() string { return storeName }

// SetResult caches a result. Cache failures are the caller's to ignore;
// the store remains the source of truth.
func (c *Cache) SetResult(ctx context.Context, r *job.Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cache: marshal result for job %s: %w", r.JobID, err)
	}
	if err := c.client.Set(ctx, resultKey(r.JobID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set result for job %s: %w", r.JobID, err)
	}
	return nil
}

// GetResult returns the cached result, or rexsyn.ErrResultNotFound on a
// cache miss.
func (c *Cache) GetResult(ctx context.Context, jobID id.JobID) (*job.Result, error) {
	raw, err := c.client.Get(ctx, resultKey(jobID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, rexsyn.ErrResultNotFound
	case err != nil:
		return nil, fmt.Errorf("cache: get result for job %s: %w", jobID, err)
	}

	var r job.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("cache: decode result for job %s: %w", jobID, err)
	}
	return &r, nil
}

// DeleteJobArtifacts removes every cached key belonging to the job and
// returns one item per removed key.
func (c *Cache) DeleteJobArtifacts(ctx context.Context, jobID id.JobID) ([]deletion.Item, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, jobPattern(jobID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scan keys for job %s: %w", jobID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("cache: delete keys for job %s: %w", jobID, err)
	}

	items := make([]deletion.Item, len(keys))
	for i, key := range keys {
		items[i] = deletion.Item{Store: storeName, Kind: "key", Identifier: key}
	}

	c.logger.Debug("job keys removed from cache",
		slog.String("job_id", jobID.String()),
		slog.Int("keys", len(keys)),
	)
	return items, nil
}
