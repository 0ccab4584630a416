// Package worker runs the concurrent execution loops that lease jobs,
// invoke the inference provider and route outcomes back to the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhehaow/inferq/internal/ai"
	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/events"
	"github.com/zhehaow/inferq/internal/metrics"
	"github.com/zhehaow/inferq/internal/queue"
)

// Publisher emits lifecycle events. Optional; nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Archiver persists terminal records durably. Optional; nil disables it.
type Archiver interface {
	Insert(ctx context.Context, rec *archive.JobRecord) error
}

// Config holds pool tunables.
type Config struct {
	// PollInterval is how long an idle worker sleeps after an empty
	// dequeue. The store has no blocking pop, so this is a bounded poll.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: time.Second}
}

// Pool owns N independent worker loops. Workers share nothing but the
// queue service; each loop is stateless across iterations.
type Pool struct {
	queue    *queue.Service
	registry *ai.Registry
	archiver Archiver
	events   Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
}

func NewPool(
	q *queue.Service,
	registry *ai.Registry,
	archiver Archiver,
	pub Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Pool{
		queue:    q,
		registry: registry,
		archiver: archiver,
		events:   pub,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run starts concurrency worker loops and blocks until the context is
// cancelled and every in-flight job has been resolved.
func (p *Pool) Run(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	p.logger.Info("worker pool starting", zap.Int("concurrency", concurrency))

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
		go func(id string) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(workerID)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

// runWorker is one execution loop. The stop flag is observed at the top
// of each iteration; an in-flight job is finished, not aborted.
func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := p.logger.With(zap.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Error("dequeue failed", zap.Error(err))
			p.idle(ctx)
			continue
		}
		if j == nil {
			p.idle(ctx)
			continue
		}

		p.process(ctx, workerID, log, j)
	}
}

func (p *Pool) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

// process resolves one leased job. Any error, including a panic from a
// provider, is contained here and converted into a Fail transition; a
// single job can never take down a worker loop.
func (p *Pool) process(ctx context.Context, workerID string, log *zap.Logger, j *queue.Job) {
	if p.metrics != nil {
		p.metrics.WorkerBusy.WithLabelValues(workerID).Set(1)
		defer p.metrics.WorkerBusy.WithLabelValues(workerID).Set(0)
	}

	// Shutdown must let the in-flight attempt finish, so the attempt
	// context is detached from the run context and bounded only by the
	// job's own per-attempt deadline.
	base := context.WithoutCancel(ctx)

	if age := time.Since(j.CreatedAt); age > j.Timeout() {
		p.failJob(base, log, j, queue.JobError{
			Kind:    queue.KindTimeout,
			Message: fmt.Sprintf("job exceeded %dms deadline before processing (waited %dms)", j.TimeoutMs, age.Milliseconds()),
		})
		return
	}

	comp, elapsed, err := p.invoke(base, j)
	if err != nil {
		p.failJob(base, log, j, queue.JobError{Kind: classify(err), Message: err.Error()})
		return
	}

	oc := queue.Outcome{
		JobID:        j.ID,
		Succeeded:    true,
		Content:      comp.Content,
		Model:        comp.Model,
		Usage:        comp.Usage,
		FinishReason: comp.FinishReason,
		ProcessingMs: elapsed.Milliseconds(),
		CompletedAt:  time.Now().UTC(),
	}
	if err := p.queue.Complete(base, j.ID, oc); err != nil {
		log.Error("complete failed", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	if p.metrics != nil {
		p.metrics.JobsSucceeded.Inc()
		p.metrics.JobLatency.Observe(time.Since(j.CreatedAt).Seconds())
	}
	p.archiveRecord(base, log, j, &oc)
	p.publish(base, log, events.Event{
		Type:     events.JobCompleted,
		JobID:    j.ID,
		Provider: j.Payload.Provider,
		Model:    oc.Model,
		Attempt:  j.Attempt,
	})
}

// invoke calls the provider with the per-attempt deadline applied.
func (p *Pool) invoke(ctx context.Context, j *queue.Job) (comp *ai.Completion, elapsed time.Duration, err error) {
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, j.Timeout())
	defer cancel()

	provider, err := p.registry.Get(cctx, j.Payload.Provider, j.Payload.Model)
	if err != nil {
		return nil, 0, err
	}

	comp, err = provider.Complete(cctx, ai.Request{
		Model:    j.Payload.Model,
		Messages: j.Payload.Messages,
		Options:  j.Payload.Options,
	})
	return comp, elapsed, err
}

func (p *Pool) failJob(ctx context.Context, log *zap.Logger, j *queue.Job, jobErr queue.JobError) {
	retried, err := p.queue.Fail(ctx, j.ID, jobErr)
	if err != nil {
		log.Error("fail transition error", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	if retried {
		if p.metrics != nil {
			p.metrics.JobsRetried.Inc()
		}
		p.publish(ctx, log, events.Event{
			Type:      events.JobRetried,
			JobID:     j.ID,
			Provider:  j.Payload.Provider,
			Attempt:   j.Attempt + 1,
			ErrorKind: string(jobErr.Kind),
			Error:     jobErr.Message,
		})
		return
	}

	if p.metrics != nil {
		p.metrics.JobsFailed.Inc()
		p.metrics.JobLatency.Observe(time.Since(j.CreatedAt).Seconds())
	}
	oc := queue.Outcome{
		JobID:       j.ID,
		Succeeded:   false,
		ErrorKind:   jobErr.Kind,
		Error:       jobErr.Message,
		CompletedAt: time.Now().UTC(),
	}
	terminal := *j
	terminal.Attempt = j.MaxAttempts
	p.archiveRecord(ctx, log, &terminal, &oc)
	p.publish(ctx, log, events.Event{
		Type:      events.JobFailed,
		JobID:     j.ID,
		Provider:  j.Payload.Provider,
		Attempt:   terminal.Attempt,
		ErrorKind: string(jobErr.Kind),
		Error:     jobErr.Message,
	})
}

// archiveRecord persists the terminal record durably. Best effort: the
// queue state is already terminal, so archive errors are only logged.
func (p *Pool) archiveRecord(ctx context.Context, log *zap.Logger, j *queue.Job, oc *queue.Outcome) {
	if p.archiver == nil {
		return
	}

	rec := &archive.JobRecord{
		ID:           j.ID,
		UserID:       j.Submitter.UserID,
		OrgID:        j.Submitter.OrgID,
		SessionID:    j.Submitter.SessionID,
		Provider:     j.Payload.Provider,
		Model:        j.Payload.Model,
		Priority:     string(j.Priority),
		Attempts:     j.Attempt,
		QueuedAt:     j.CreatedAt,
		FinishedAt:   oc.CompletedAt,
		ProcessingMs: oc.ProcessingMs,
	}
	if oc.Succeeded {
		rec.Status = "completed"
		rec.Content = oc.Content
		rec.Model = oc.Model
		rec.FinishReason = oc.FinishReason
		rec.PromptTokens = oc.Usage.PromptTokens
		rec.CompletionTokens = oc.Usage.CompletionTokens
		rec.TotalTokens = oc.Usage.TotalTokens
		rec.Attempts = j.Attempt + 1
	} else {
		rec.Status = "failed"
		kind := string(oc.ErrorKind)
		msg := oc.Error
		rec.ErrorKind = &kind
		rec.Error = &msg
	}

	if err := p.archiver.Insert(ctx, rec); err != nil {
		log.Error("archive insert failed", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (p *Pool) publish(ctx context.Context, log *zap.Logger, ev events.Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		log.Error("event publish failed", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

// classify maps an invocation error onto the operator-facing taxonomy.
// Informational only; the retry decision is attempt-count based.
func classify(err error) queue.ErrorKind {
	var rle *ai.RateLimitError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return queue.KindTimeout
	case errors.As(err, &rle):
		return queue.KindRateLimit
	case errors.As(err, &netErr):
		return queue.KindTransientNetwork
	default:
		return queue.KindProcessing
	}
}
