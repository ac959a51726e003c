package usagestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var (
	ErrFailedToFetchUsage = errors.New("usagestore.errors.failed_to_fetch_usage")
	ErrFailedToIncrement  = errors.New("usagestore.errors.failed_to_increment")
	ErrInvalidAmount      = errors.New("usagestore.errors.invalid_amount")
)

// Store is the system of record for usage counters. Postgres holds one
// row per (workspace, resource); Redis deduplicates increment retries
// by idempotency key so a replayed request returns the original total
// instead of double counting.
type Store struct {
	pool    *pgxpool.Pool
	redis   redis.UniversalClient
	idemTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithIdempotencyTTL overrides how long replay results are retained.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idemTTL = ttl }
}

// New creates a Store. Both the Postgres pool and the Redis client are
// required; construction panics when either is missing since the store
// cannot degrade gracefully without its backends.
func New(pool *pgxpool.Pool, rdb redis.UniversalClient, opts ...Option) *Store {
	if pool == nil {
		panic("usagestore: pgx pool is required")
	}
	if rdb == nil {
		panic("usagestore: redis client is required")
	}
	s := &Store{
		pool:    pool,
		redis:   rdb,
		idemTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns all usage counters for a workspace. Resources with
// no recorded activity are absent from the result.
func (s *Store) Snapshot(ctx context.Context, workspaceID string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT resource, used FROM usage_counters WHERE workspace_id = $1`,
		workspaceID,
	)
	if err != nil {
		return nil, errors.Join(ErrFailedToFetchUsage, err)
	}
	defer rows.Close()

	usage := make(map[string]int64)
	for rows.Next() {
		var resource string
		var used int64
		if err := rows.Scan(&resource, &used); err != nil {
			return nil, errors.Join(ErrFailedToFetchUsage, err)
		}
		usage[resource] = used
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrFailedToFetchUsage, err)
	}

	return usage, nil
}

// Increment atomically adds amount to a workspace's counter and
// returns the authoritative total after the write. When idempotencyKey
// names a previously applied increment, the stored total is replayed
// without touching the counter.
func (s *Store) Increment(ctx context.Context, workspaceID, resource string, amount int64, idempotencyKey string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	if idempotencyKey != "" {
		if total, ok, err := s.replay(ctx, workspaceID, idempotencyKey); err == nil && ok {
			return total, nil
		}
		// Redis lookup failures fall through to the write: double
		// counting is bounded by the client's retry policy, while
		// refusing writes would block all increments.
	}

	var total int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (workspace_id, resource, used)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (workspace_id, resource)
		 DO UPDATE SET used = usage_counters.used + EXCLUDED.used, updated_at = now()
		 RETURNING used`,
		workspaceID, resource, amount,
	).Scan(&total)
	if err != nil {
		return 0, errors.Join(ErrFailedToIncrement, err)
	}

	if idempotencyKey != "" {
		// Counter is already updated; a lost dedup record only risks a
		// duplicate on retry.
		_ = s.remember(ctx, workspaceID, idempotencyKey, total)
	}

	return total, nil
}

func (s *Store) replay(ctx context.Context, workspaceID, key string) (int64, bool, error) {
	val, err := s.redis.Get(ctx, idemKey(workspaceID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	total, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

func (s *Store) remember(ctx context.Context, workspaceID, key string, total int64) error {
	return s.redis.SetNX(ctx, idemKey(workspaceID, key), strconv.FormatInt(total, 10), s.idemTTL).Err()
}

func idemKey(workspaceID, key string) string {
	return fmt.Sprintf("usage:idem:%s:%s", workspaceID, key)
}
