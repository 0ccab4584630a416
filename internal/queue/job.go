// Package queue implements the durable priority queue for inference
// requests: admission, the dequeue/lease protocol, completion and
// failure handling with retries, statistics and terminal-record cleanup.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhehaow/inferq/internal/ai"
)

type PriorityClass string

const (
	PriorityLow      PriorityClass = "low"
	PriorityNormal   PriorityClass = "normal"
	PriorityHigh     PriorityClass = "high"
	PriorityCritical PriorityClass = "critical"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeoutMs   = 30000
)

var (
	// ErrValidation marks admission-time input errors; they are returned
	// synchronously and never enter the queue.
	ErrValidation = errors.New("validation error")

	// ErrNotLeased is returned when complete/fail references a job that is
	// not in the processing map. That is a consistency bug, not a user error.
	ErrNotLeased = errors.New("job is not leased")
)

// ErrorKind classifies a failed attempt. Recorded for operators; the
// retry decision is governed by attempt count alone.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindProcessing       ErrorKind = "processing"
	KindTimeout          ErrorKind = "timeout"
	KindRateLimit        ErrorKind = "rate_limit"
	KindTransientNetwork ErrorKind = "transient_network"
)

// JobError is the failure description handed to Fail by the worker.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Payload is the opaque-to-us request body forwarded to the provider.
type Payload struct {
	Provider string       `json:"provider"`
	Model    string       `json:"model,omitempty"`
	Messages []ai.Message `json:"messages"`
	Options  ai.Options   `json:"options,omitempty"`
}

// Submitter identifies who enqueued the job. Observability only; it
// plays no part in scheduling.
type Submitter struct {
	UserID    string `json:"user_id,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Job is one durable unit of queued work. At any instant it lives in
// exactly one of the pending set, the processing map, or a terminal
// record.
type Job struct {
	ID          string        `json:"id"`
	Payload     Payload       `json:"payload"`
	Priority    PriorityClass `json:"priority"`
	Submitter   Submitter     `json:"submitter,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	TimeoutMs   int64         `json:"timeout_ms"`

	// LeasedAt is set by the dequeue protocol while the job sits in the
	// processing map.
	LeasedAt string `json:"leased_at,omitempty"`
}

func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMs) * time.Millisecond
}

// Outcome is the result of a job's final attempt.
type Outcome struct {
	JobID        string    `json:"job_id"`
	Succeeded    bool      `json:"succeeded"`
	Content      string    `json:"content,omitempty"`
	Model        string    `json:"model,omitempty"`
	Usage        ai.Usage  `json:"usage,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	ProcessingMs int64     `json:"processing_ms"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Record is an immutable terminal record kept until ExpiresAt.
type Record struct {
	Job       Job       `json:"job"`
	Outcome   Outcome   `json:"outcome"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EnqueueOptions tune a single admission. Zero values select defaults.
type EnqueueOptions struct {
	Priority    PriorityClass
	MaxAttempts int
	TimeoutMs   int64
	Submitter   Submitter
}

// NewJobID returns a fresh ULID. ULIDs sort by creation time, which
// keeps pending-set tie-breaks stable.
func NewJobID() string {
	return ulid.Make().String()
}

var validRoles = map[string]bool{
	ai.RoleSystem:    true,
	ai.RoleUser:      true,
	ai.RoleAssistant: true,
}

func validatePayload(p Payload) error {
	if p.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrValidation)
	}
	if len(p.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}
	for i, m := range p.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("%w: message %d has invalid role %q", ErrValidation, i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("%w: message %d has empty content", ErrValidation, i)
		}
	}
	return nil
}

func validPriority(p PriorityClass) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}
