package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// QueueStats is a derived snapshot. Counts come from store-level atomic
// counters; throughput and error rate are process-local diagnostics
// tracked since start, never authoritative across workers.
type QueueStats struct {
	Pending    int64   `json:"pending"`
	Processing int64   `json:"processing"`
	Completed  int64   `json:"completed"`
	Failed     int64   `json:"failed"`
	Throughput float64 `json:"throughput_per_sec"`
	ErrorRate  float64 `json:"error_rate"`
}

// Stats reads the maintained counters; it never scans the job set.
func (s *Service) Stats(ctx context.Context) (QueueStats, error) {
	var out QueueStats
	var err error
	if out.Pending, err = s.store.Counter(ctx, counterPending); err != nil {
		return out, fmt.Errorf("read pending counter: %w", err)
	}
	if out.Processing, err = s.store.Counter(ctx, counterProcessing); err != nil {
		return out, fmt.Errorf("read processing counter: %w", err)
	}
	if out.Completed, err = s.store.Counter(ctx, counterCompleted); err != nil {
		return out, fmt.Errorf("read completed counter: %w", err)
	}
	if out.Failed, err = s.store.Counter(ctx, counterFailed); err != nil {
		return out, fmt.Errorf("read failed counter: %w", err)
	}
	out.Throughput, out.ErrorRate = s.local.snapshot()
	return out, nil
}

// rateTracker keeps an exponentially smoothed completion rate and a
// running error ratio for this process.
type rateTracker struct {
	mu        sync.Mutex
	last      time.Time
	rate      float64
	succeeded uint64
	failed    uint64
}

func newRateTracker() *rateTracker {
	return &rateTracker{}
}

const rateAlpha = 0.2

func (t *rateTracker) observe(success bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		if dt := now.Sub(t.last).Seconds(); dt > 0 {
			inst := 1.0 / dt
			if t.rate == 0 {
				t.rate = inst
			} else {
				t.rate = rateAlpha*inst + (1-rateAlpha)*t.rate
			}
		}
	}
	t.last = now

	if success {
		t.succeeded++
	} else {
		t.failed++
	}
}

func (t *rateTracker) snapshot() (rate, errRate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.succeeded + t.failed
	if total > 0 {
		errRate = float64(t.failed) / float64(total)
	}
	return t.rate, errRate
}
