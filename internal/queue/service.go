package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderChecker lets admission reject payloads naming providers no
// worker can serve. ai.Registry satisfies it.
type ProviderChecker interface {
	Known(name string) bool
}

// Config holds retention windows for terminal records.
type Config struct {
	CompletedTTL time.Duration
	FailedTTL    time.Duration
}

// DefaultConfig keeps completed results for an hour and failures for a
// day, the longer window for post-mortem debugging.
func DefaultConfig() Config {
	return Config{
		CompletedTTL: time.Hour,
		FailedTTL:    24 * time.Hour,
	}
}

// Service exposes the queue operations. All cross-worker coordination
// is delegated to the Store's atomic primitives; the Service itself
// holds no in-process locks apart from the local rate tracker.
type Service struct {
	store     Store
	providers ProviderChecker
	logger    *zap.Logger
	cfg       Config
	local     *rateTracker
}

func NewService(store Store, providers ProviderChecker, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = DefaultConfig().CompletedTTL
	}
	if cfg.FailedTTL <= 0 {
		cfg.FailedTTL = DefaultConfig().FailedTTL
	}
	return &Service{
		store:     store,
		providers: providers,
		logger:    logger,
		cfg:       cfg,
		local:     newRateTracker(),
	}
}

// Enqueue validates the payload, builds the durable job record and
// inserts it into the pending set. Validation failures are returned
// synchronously and never enter the queue.
func (s *Service) Enqueue(ctx context.Context, payload Payload, opts EnqueueOptions) (*Job, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	if s.providers != nil && !s.providers.Known(payload.Provider) {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrValidation, payload.Provider)
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !validPriority(priority) {
		return nil, fmt.Errorf("%w: invalid priority class %q", ErrValidation, priority)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}

	j := &Job{
		ID:          NewJobID(),
		Payload:     payload,
		Priority:    priority,
		Submitter:   opts.Submitter,
		CreatedAt:   time.Now().UTC(),
		Attempt:     0,
		MaxAttempts: maxAttempts,
		TimeoutMs:   timeoutMs,
	}

	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	if err := s.store.AddScored(ctx, PendingKey, priorityScore(j), string(body)); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterPending, 1); err != nil {
		return nil, fmt.Errorf("increment pending: %w", err)
	}

	s.logger.Info("job enqueued",
		zap.String("job_id", j.ID),
		zap.String("priority", string(j.Priority)),
		zap.String("provider", payload.Provider),
	)
	return j, nil
}

// Dequeue leases the highest-priority pending job, moving it into the
// processing map in one atomic store step. Returns (nil, nil) when
// nothing is pending; callers retry after a short delay.
func (s *Service) Dequeue(ctx context.Context) (*Job, error) {
	body, ok, err := s.store.LeaseMax(ctx, PendingKey, ProcessingKey, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("decode leased job: %w", err)
	}

	if _, err := s.store.Increment(ctx, counterPending, -1); err != nil {
		return nil, fmt.Errorf("decrement pending: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterProcessing, 1); err != nil {
		return nil, fmt.Errorf("increment processing: %w", err)
	}
	return &j, nil
}

// Complete resolves a leased job as succeeded. The terminal record is
// written before the lease is dropped so a status reader never observes
// the job in neither place.
func (s *Service) Complete(ctx context.Context, jobID string, oc Outcome) error {
	j, err := s.leased(ctx, jobID)
	if err != nil {
		return err
	}

	oc.JobID = jobID
	oc.Succeeded = true
	if oc.CompletedAt.IsZero() {
		oc.CompletedAt = time.Now().UTC()
	}

	rec := Record{Job: *j, Outcome: oc, ExpiresAt: time.Now().UTC().Add(s.cfg.CompletedTTL)}
	if err := s.writeRecord(ctx, CompletedPrefix+jobID, &rec, s.cfg.CompletedTTL); err != nil {
		return err
	}
	if err := s.store.HashDelete(ctx, ProcessingKey, jobID); err != nil {
		return fmt.Errorf("drop lease: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterProcessing, -1); err != nil {
		return fmt.Errorf("decrement processing: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterCompleted, 1); err != nil {
		return fmt.Errorf("increment completed: %w", err)
	}
	s.local.observe(true)

	s.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int64("processing_ms", oc.ProcessingMs),
		zap.Int("attempt", j.Attempt),
	)
	return nil
}

// Fail resolves one failed attempt. While the retry budget lasts the
// job goes back into the pending set with a score penalty; afterwards
// it becomes an immutable failed record with the long retention window.
// Returns whether the job was retried.
func (s *Service) Fail(ctx context.Context, jobID string, jobErr JobError) (bool, error) {
	j, err := s.leased(ctx, jobID)
	if err != nil {
		return false, err
	}

	j.Attempt++
	if j.Attempt < j.MaxAttempts {
		j.LeasedAt = ""
		body, err := json.Marshal(j)
		if err != nil {
			return false, fmt.Errorf("encode job: %w", err)
		}
		// Lease drop and re-admission are one atomic store step. Done as
		// two, a dequeue racing into the gap would lease the job and then
		// have that lease destroyed by the trailing delete, stranding the
		// job outside pending, processing and terminal alike.
		if err := s.store.Requeue(ctx, ProcessingKey, jobID, PendingKey, priorityScore(j), string(body)); err != nil {
			return false, fmt.Errorf("requeue job: %w", err)
		}
		if _, err := s.store.Increment(ctx, counterProcessing, -1); err != nil {
			return false, fmt.Errorf("decrement processing: %w", err)
		}
		if _, err := s.store.Increment(ctx, counterPending, 1); err != nil {
			return false, fmt.Errorf("increment pending: %w", err)
		}

		s.logger.Warn("job retried",
			zap.String("job_id", jobID),
			zap.Int("attempt", j.Attempt),
			zap.Int("max_attempts", j.MaxAttempts),
			zap.String("error_kind", string(jobErr.Kind)),
			zap.String("error", jobErr.Message),
		)
		return true, nil
	}

	oc := Outcome{
		JobID:       jobID,
		Succeeded:   false,
		ErrorKind:   jobErr.Kind,
		Error:       jobErr.Message,
		CompletedAt: time.Now().UTC(),
	}
	rec := Record{Job: *j, Outcome: oc, ExpiresAt: time.Now().UTC().Add(s.cfg.FailedTTL)}
	if err := s.writeRecord(ctx, FailedPrefix+jobID, &rec, s.cfg.FailedTTL); err != nil {
		return false, err
	}
	if err := s.store.HashDelete(ctx, ProcessingKey, jobID); err != nil {
		return false, fmt.Errorf("drop lease: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterProcessing, -1); err != nil {
		return false, fmt.Errorf("decrement processing: %w", err)
	}
	if _, err := s.store.Increment(ctx, counterFailed, 1); err != nil {
		return false, fmt.Errorf("increment failed: %w", err)
	}
	s.local.observe(false)

	s.logger.Error("job permanently failed",
		zap.String("job_id", jobID),
		zap.Int("attempt", j.Attempt),
		zap.String("error_kind", string(jobErr.Kind)),
		zap.String("error", jobErr.Message),
	)
	return false, nil
}

func (s *Service) leased(ctx context.Context, jobID string) (*Job, error) {
	body, ok, err := s.store.HashGet(ctx, ProcessingKey, jobID)
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLeased, jobID)
	}
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("decode leased job: %w", err)
	}
	return &j, nil
}

func (s *Service) writeRecord(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.store.SetWithTTL(ctx, key, string(body), ttl); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
