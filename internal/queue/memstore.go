package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-binary
// experiments (STORE=memory). Per-process: two binaries pointed at it
// each get a private queue. One mutex stands in for the store-level
// atomicity the Redis implementation gets from single commands and Lua.
type MemoryStore struct {
	mu       sync.Mutex
	zsets    map[string][]scoredMember
	hashes   map[string]map[string]string
	kv       map[string]kvEntry
	counters map[string]int64
}

type scoredMember struct {
	score  float64
	member string
}

// kvEntry keeps the TTL as metadata only. Redis evicts expired keys
// natively; here the sweeper is the eviction path, driven by the
// expiry embedded in the record itself.
type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zsets:    make(map[string][]scoredMember),
		hashes:   make(map[string]map[string]string),
		kv:       make(map[string]kvEntry),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) AddScored(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zsets[key] = append(s.zsets[key], scoredMember{score: score, member: member})
	return nil
}

// popMaxLocked removes the highest-scoring member, breaking score ties
// by highest member lexicographically, matching Redis ZPOPMAX.
func (s *MemoryStore) popMaxLocked(key string) (string, bool) {
	set := s.zsets[key]
	if len(set) == 0 {
		return "", false
	}
	best := 0
	for i := 1; i < len(set); i++ {
		if set[i].score > set[best].score ||
			(set[i].score == set[best].score && set[i].member > set[best].member) {
			best = i
		}
	}
	member := set[best].member
	s.zsets[key] = append(set[:best], set[best+1:]...)
	return member, true
}

func (s *MemoryStore) LeaseMax(ctx context.Context, zsetKey, hashKey string, leasedAt time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.popMaxLocked(zsetKey)
	if !ok {
		return "", false, nil
	}

	var j Job
	if err := json.Unmarshal([]byte(member), &j); err != nil {
		return "", false, fmt.Errorf("lease: decode job: %w", err)
	}
	j.LeasedAt = leasedAt.UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(&j)
	if err != nil {
		return "", false, fmt.Errorf("lease: encode job: %w", err)
	}

	h := s.hashes[hashKey]
	if h == nil {
		h = make(map[string]string)
		s.hashes[hashKey] = h
	}
	h[j.ID] = string(body)
	return string(body), true, nil
}

func (s *MemoryStore) Requeue(ctx context.Context, hashKey, field, zsetKey string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes[hashKey], field)
	s.zsets[zsetKey] = append(s.zsets[zsetKey], scoredMember{score: score, member: member})
	return nil
}

func (s *MemoryStore) ListByScoreDesc(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := append([]scoredMember(nil), s.zsets[key]...)
	sort.Slice(set, func(i, j int) bool {
		if set[i].score != set[j].score {
			return set[i].score > set[j].score
		}
		return set[i].member > set[j].member
	})
	out := make([]string, 0, len(set))
	for _, m := range set {
		out = append(out, m.member)
	}
	return out, nil
}

func (s *MemoryStore) HashSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *MemoryStore) HashDelete(ctx context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes[key], field)
	return nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

func (s *MemoryStore) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *MemoryStore) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.kv {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
