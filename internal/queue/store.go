package queue

import (
	"context"
	"time"
)

// Key layout shared by every Store implementation.
const (
	PendingKey      = "inferq:jobs:pending"
	ProcessingKey   = "inferq:jobs:processing"
	CompletedPrefix = "inferq:jobs:completed:"
	FailedPrefix    = "inferq:jobs:failed:"

	counterPending    = "inferq:stats:pending"
	counterProcessing = "inferq:stats:processing"
	counterCompleted  = "inferq:stats:completed"
	counterFailed     = "inferq:stats:failed"
)

// Store is the durable sorted-set + hash + key-value capability backing
// the queue. Single operations are assumed atomic; LeaseMax must move
// the top-scored member into the hash in one atomic step so that two
// workers can never lease the same job.
type Store interface {
	// AddScored inserts member into the sorted set at key with score.
	AddScored(ctx context.Context, key string, score float64, member string) error

	// LeaseMax atomically removes the highest-scoring member of zsetKey,
	// annotates it with leasedAt, and stores it in hashKey under the
	// job's id field. Returns ok=false when the set is empty.
	LeaseMax(ctx context.Context, zsetKey, hashKey string, leasedAt time.Time) (member string, ok bool, err error)

	// Requeue atomically drops field from hashKey and inserts member
	// into the sorted set at zsetKey with score. The retry transition
	// depends on this being one step: a re-admitted job must never be
	// observable alongside its stale lease, or a dequeue landing in
	// between could have its fresh lease destroyed.
	Requeue(ctx context.Context, hashKey, field, zsetKey string, score float64, member string) error

	// ListByScoreDesc returns every member of the sorted set at key,
	// highest score first. Cost is proportional to set size; only the
	// pending-position read path uses it.
	ListByScoreDesc(ctx context.Context, key string) ([]string, error)

	HashSet(ctx context.Context, key, field, value string) error
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HashDelete(ctx context.Context, key, field string) error

	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error

	// Increment atomically adds delta (may be negative) to the integer
	// at key, creating it at zero if absent.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Counter reads the integer at key, zero if absent.
	Counter(ctx context.Context, key string) (int64, error)

	// KeysByPrefix lists keys starting with prefix. Used by the sweeper.
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
