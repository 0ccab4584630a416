// Package redisstore backs the queue with Redis. Sorted sets hold the
// pending jobs, a hash holds in-flight leases, plain keys with TTLs
// hold terminal records and INCRBY maintains the statistics counters.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) AddScored(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// leaseScript pops the top-scored job and claims it into the processing
// hash in one atomic step. Two workers can never receive the same job:
// ZPOPMAX removes the member before anyone else can see it, and the
// claim happens inside the same script.
var leaseScript = redis.NewScript(`
local popped = redis.call('ZPOPMAX', KEYS[1])
if #popped == 0 then
  return false
end
local job = cjson.decode(popped[1])
job['leased_at'] = ARGV[1]
local body = cjson.encode(job)
redis.call('HSET', KEYS[2], job['id'], body)
return body
`)

func (s *Store) LeaseMax(ctx context.Context, zsetKey, hashKey string, leasedAt time.Time) (string, bool, error) {
	res, err := leaseScript.Run(ctx, s.client,
		[]string{zsetKey, hashKey},
		leasedAt.UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lease script: %w", err)
	}
	body, ok := res.(string)
	if !ok {
		return "", false, fmt.Errorf("lease script: unexpected reply %T", res)
	}
	return body, true, nil
}

// requeueScript is LeaseMax's inverse: drop the lease and re-admit the
// job in one atomic step, so no dequeue can observe the job in both the
// processing hash and the pending set, or in neither.
var requeueScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

func (s *Store) Requeue(ctx context.Context, hashKey, field, zsetKey string, score float64, member string) error {
	if err := requeueScript.Run(ctx, s.client,
		[]string{hashKey, zsetKey},
		field, score, member,
	).Err(); err != nil {
		return fmt.Errorf("requeue script: %w", err)
	}
	return nil
}

func (s *Store) ListByScoreDesc(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	return members, nil
}

func (s *Store) HashSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("hget: %w", err)
	}
	return v, true, nil
}

func (s *Store) HashDelete(ctx context.Context, key, field string) error {
	if err := s.client.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("hdel: %w", err)
	}
	return nil
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get: %w", err)
	}
	return v, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incrby: %w", err)
	}
	return n, nil
}

func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

func (s *Store) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return keys, nil
}
