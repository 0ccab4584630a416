package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type StatusKind string

const (
	StatusPending    StatusKind = "pending"
	StatusProcessing StatusKind = "processing"
	StatusCompleted  StatusKind = "completed"
	StatusFailed     StatusKind = "failed"
	StatusNotFound   StatusKind = "not_found"
)

// JobStatus is the read-path view of a job. Position is 1-based and set
// only while pending; Outcome only in terminal states.
type JobStatus struct {
	JobID    string     `json:"job_id"`
	Kind     StatusKind `json:"status"`
	Position int        `json:"position,omitempty"`
	Attempt  int        `json:"attempt,omitempty"`
	Outcome  *Outcome   `json:"outcome,omitempty"`
}

// Status resolves a job id by checking the terminal stores, then the
// processing map, and finally scanning the pending set. The scan is the
// only linear-cost read in the design; the pending set is expected to
// stay shallow.
func (s *Service) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	if rec, err := s.readRecord(ctx, CompletedPrefix+jobID); err != nil {
		return nil, err
	} else if rec != nil {
		return &JobStatus{JobID: jobID, Kind: StatusCompleted, Attempt: rec.Job.Attempt, Outcome: &rec.Outcome}, nil
	}

	if rec, err := s.readRecord(ctx, FailedPrefix+jobID); err != nil {
		return nil, err
	} else if rec != nil {
		return &JobStatus{JobID: jobID, Kind: StatusFailed, Attempt: rec.Job.Attempt, Outcome: &rec.Outcome}, nil
	}

	if body, ok, err := s.store.HashGet(ctx, ProcessingKey, jobID); err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	} else if ok {
		var j Job
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			return nil, fmt.Errorf("decode leased job: %w", err)
		}
		return &JobStatus{JobID: jobID, Kind: StatusProcessing, Attempt: j.Attempt}, nil
	}

	members, err := s.store.ListByScoreDesc(ctx, PendingKey)
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	for i, m := range members {
		var j Job
		if err := json.Unmarshal([]byte(m), &j); err != nil {
			continue
		}
		if j.ID == jobID {
			return &JobStatus{JobID: jobID, Kind: StatusPending, Position: i + 1, Attempt: j.Attempt}, nil
		}
	}

	return &JobStatus{JobID: jobID, Kind: StatusNotFound}, nil
}

func (s *Service) readRecord(ctx context.Context, key string) (*Record, error) {
	body, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
