package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweeper evicts terminal records past their retention window. The
// Redis store also sets key TTLs, so this is a backstop there; for the
// memory store it is the only eviction path. Queue correctness does not
// depend on its cadence.
type Sweeper struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration
}

func NewSweeper(store Store, logger *zap.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, logger: logger, interval: interval}
}

// Run sweeps on a fixed cadence until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("swept expired records", zap.Int("removed", removed))
			}
		}
	}
}

// Sweep deletes expired completed and failed records once.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now().UTC()

	for _, prefix := range []string{CompletedPrefix, FailedPrefix} {
		keys, err := s.store.KeysByPrefix(ctx, prefix)
		if err != nil {
			return removed, fmt.Errorf("list %s keys: %w", prefix, err)
		}
		for _, key := range keys {
			body, ok, err := s.store.Get(ctx, key)
			if err != nil {
				return removed, fmt.Errorf("read %s: %w", key, err)
			}
			if !ok {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(body), &rec); err != nil {
				s.logger.Warn("dropping undecodable record", zap.String("key", key), zap.Error(err))
				if err := s.store.Delete(ctx, key); err != nil {
					return removed, fmt.Errorf("delete %s: %w", key, err)
				}
				removed++
				continue
			}
			if now.Before(rec.ExpiresAt) {
				continue
			}
			if err := s.store.Delete(ctx, key); err != nil {
				return removed, fmt.Errorf("delete %s: %w", key, err)
			}
			removed++
		}
	}
	return removed, nil
}
