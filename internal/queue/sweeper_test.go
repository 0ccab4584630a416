package queue

import (
	"context"
	"testing"
	"time"
)

func TestSweepEvictsExpiredCompletedKeepsFreshFailed(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(store, nil, nil, Config{
		CompletedTTL: 10 * time.Millisecond,
		FailedTTL:    time.Hour,
	})
	ctx := context.Background()

	done := mustEnqueue(t, s, EnqueueOptions{})
	dead := mustEnqueue(t, s, EnqueueOptions{MaxAttempts: 1})

	leased := mustDequeue(t, s)
	if err := s.Complete(ctx, leased.ID, Outcome{Content: "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	leased = mustDequeue(t, s)
	if _, err := s.Fail(ctx, leased.ID, JobError{Kind: KindProcessing, Message: "boom"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Let the completed record pass its retention window.
	time.Sleep(25 * time.Millisecond)

	sw := NewSweeper(store, nil, time.Minute)
	removed, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}

	st, _ := s.Status(ctx, done.ID)
	if st.Kind != StatusNotFound {
		t.Fatalf("expected expired completed record gone, got %s", st.Kind)
	}
	st, _ = s.Status(ctx, dead.ID)
	if st.Kind != StatusFailed {
		t.Fatalf("expected failed record retained, got %s", st.Kind)
	}
}

func TestSweepNoExpiredRecordsIsNoop(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(store, nil, nil, DefaultConfig())
	ctx := context.Background()

	mustEnqueue(t, s, EnqueueOptions{})
	leased := mustDequeue(t, s)
	if err := s.Complete(ctx, leased.ID, Outcome{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	removed, err := NewSweeper(store, nil, time.Minute).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed, got %d", removed)
	}
}
