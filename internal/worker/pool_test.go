package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zhehaow/inferq/internal/ai"
	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/events"
	"github.com/zhehaow/inferq/internal/queue"
)

type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	completion *ai.Completion
	err        error
	panicMsg   string
}

func (f *fakeProvider) Complete(ctx context.Context, req ai.Request) (*ai.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.completion, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	mu   sync.Mutex
	recs []*archive.JobRecord
}

func (a *fakeArchiver) Insert(ctx context.Context, rec *archive.JobRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

type fakePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return nil
}

func newTestPool(t *testing.T, prov ai.Provider) (*Pool, *queue.Service, *fakeArchiver, *fakePublisher) {
	t.Helper()

	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return prov, nil
	})

	q := queue.NewService(queue.NewMemoryStore(), reg, zap.NewNop(), queue.DefaultConfig())
	arch := &fakeArchiver{}
	pub := &fakePublisher{}
	pool := NewPool(q, reg, arch, pub, nil, zap.NewNop(), Config{PollInterval: 10 * time.Millisecond})
	return pool, q, arch, pub
}

func testPayload() queue.Payload {
	return queue.Payload{
		Provider: "fake",
		Model:    "test-model",
		Messages: []ai.Message{{Role: ai.RoleUser, Content: "hello"}},
	}
}

func waitForTerminal(t *testing.T, q *queue.Service, jobID string) *queue.JobStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := q.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Kind == queue.StatusCompleted || st.Kind == queue.StatusFailed {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestPoolCompletesJob(t *testing.T) {
	prov := &fakeProvider{completion: &ai.Completion{
		Content:      "the answer",
		Model:        "test-model",
		FinishReason: "stop",
		Usage:        ai.Usage{PromptTokens: 3, CompletionTokens: 7, TotalTokens: 10},
	}}
	pool, q, arch, pub := newTestPool(t, prov)

	j, err := q.Enqueue(context.Background(), testPayload(), queue.EnqueueOptions{
		Submitter: queue.Submitter{UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx, 2)
		close(done)
	}()

	st := waitForTerminal(t, q, j.ID)
	cancel()
	<-done

	if st.Kind != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", st.Kind)
	}
	if st.Outcome.Content != "the answer" || st.Outcome.Usage.TotalTokens != 10 {
		t.Fatalf("unexpected outcome: %+v", st.Outcome)
	}

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.recs) != 1 {
		t.Fatalf("expected 1 archived record, got %d", len(arch.recs))
	}
	rec := arch.recs[0]
	if rec.Status != "completed" || rec.TotalTokens != 10 || rec.UserID != "u1" || rec.Attempts != 1 {
		t.Fatalf("unexpected archive record: %+v", rec)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.evs) != 1 || pub.evs[0].Type != events.JobCompleted {
		t.Fatalf("expected one job.completed event, got %+v", pub.evs)
	}
}

func TestPoolRetriesThenFailsPermanently(t *testing.T) {
	prov := &fakeProvider{err: errors.New("model exploded")}
	pool, q, arch, pub := newTestPool(t, prov)

	j, err := q.Enqueue(context.Background(), testPayload(), queue.EnqueueOptions{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx, 1)
		close(done)
	}()

	st := waitForTerminal(t, q, j.ID)
	cancel()
	<-done

	if st.Kind != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", st.Kind)
	}
	if st.Attempt != 2 {
		t.Fatalf("expected attempt == maxAttempts (2), got %d", st.Attempt)
	}
	if st.Outcome.ErrorKind != queue.KindProcessing {
		t.Fatalf("expected processing error kind, got %s", st.Outcome.ErrorKind)
	}
	if got := prov.callCount(); got != 2 {
		t.Fatalf("expected provider invoked twice, got %d", got)
	}

	pub.mu.Lock()
	types := make([]events.EventType, 0, len(pub.evs))
	for _, ev := range pub.evs {
		types = append(types, ev.Type)
	}
	pub.mu.Unlock()
	if len(types) != 2 || types[0] != events.JobRetried || types[1] != events.JobFailed {
		t.Fatalf("unexpected event sequence: %v", types)
	}

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.recs) != 1 || arch.recs[0].Status != "failed" {
		t.Fatalf("expected one failed archive record, got %+v", arch.recs)
	}
}

// A job whose deadline passed while waiting in the queue is failed with
// a timeout outcome without ever reaching the provider.
func TestExpiredJobSkipsProvider(t *testing.T) {
	prov := &fakeProvider{completion: &ai.Completion{Content: "late"}}
	pool, q, _, _ := newTestPool(t, prov)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, testPayload(), queue.EnqueueOptions{TimeoutMs: 100, MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	leased, err := q.Dequeue(ctx)
	if err != nil || leased == nil {
		t.Fatalf("dequeue: %v, job=%v", err, leased)
	}
	pool.process(ctx, "worker-test", zap.NewNop(), leased)

	if got := prov.callCount(); got != 0 {
		t.Fatalf("provider must not be invoked for an expired job, got %d calls", got)
	}
	st, _ := q.Status(ctx, j.ID)
	if st.Kind != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", st.Kind)
	}
	if st.Outcome.ErrorKind != queue.KindTimeout {
		t.Fatalf("expected timeout kind, got %s", st.Outcome.ErrorKind)
	}
}

func TestProviderPanicIsContained(t *testing.T) {
	prov := &fakeProvider{panicMsg: "nil pointer somewhere deep"}
	pool, q, _, _ := newTestPool(t, prov)
	ctx := context.Background()

	j, err := q.Enqueue(ctx, testPayload(), queue.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := q.Dequeue(ctx)
	if err != nil || leased == nil {
		t.Fatalf("dequeue: %v", err)
	}
	pool.process(ctx, "worker-test", zap.NewNop(), leased)

	st, _ := q.Status(ctx, j.ID)
	if st.Kind != queue.StatusFailed {
		t.Fatalf("expected failed after panic, got %s", st.Kind)
	}
	if st.Outcome.ErrorKind != queue.KindProcessing {
		t.Fatalf("expected processing kind, got %s", st.Outcome.ErrorKind)
	}
}

func TestPoolStopsOnCancel(t *testing.T) {
	pool, _, _, _ := newTestPool(t, &fakeProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx, 3)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not stop after cancel")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want queue.ErrorKind
	}{
		{context.DeadlineExceeded, queue.KindTimeout},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), queue.KindTimeout},
		{&ai.RateLimitError{Provider: "openrouter"}, queue.KindRateLimit},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, queue.KindTransientNetwork},
		{errors.New("bad output"), queue.KindProcessing},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
