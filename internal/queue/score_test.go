package queue

import (
	"testing"
	"time"
)

func scoredJob(priority PriorityClass, createdAt time.Time, attempt int) *Job {
	return &Job{
		ID:        NewJobID(),
		Priority:  priority,
		CreatedAt: createdAt,
		Attempt:   attempt,
	}
}

func TestClassBandsAreDisjoint(t *testing.T) {
	now := time.Now().UTC()
	veryOld := now.Add(-10 * 365 * 24 * time.Hour)

	// A decade-old job of a lower class must still score below a fresh
	// job of the next class up.
	pairs := []struct {
		lower, higher PriorityClass
	}{
		{PriorityLow, PriorityNormal},
		{PriorityNormal, PriorityHigh},
		{PriorityHigh, PriorityCritical},
	}
	for _, p := range pairs {
		old := priorityScore(scoredJob(p.lower, veryOld, 0))
		fresh := priorityScore(scoredJob(p.higher, now, 0))
		if old >= fresh {
			t.Fatalf("old %s job (%f) outranks fresh %s job (%f)", p.lower, old, p.higher, fresh)
		}
	}
}

func TestOlderJobScoresHigherWithinClass(t *testing.T) {
	now := time.Now().UTC()
	older := priorityScore(scoredJob(PriorityNormal, now.Add(-time.Second), 0))
	newer := priorityScore(scoredJob(PriorityNormal, now, 0))
	if older <= newer {
		t.Fatalf("older job should outrank newer: %f <= %f", older, newer)
	}
}

func TestRetryPenaltyDeduction(t *testing.T) {
	now := time.Now().UTC()
	base := priorityScore(scoredJob(PriorityHigh, now, 0))
	penalized := priorityScore(scoredJob(PriorityHigh, now, 1))

	if got := base - penalized; got != float64(retryPenaltyMs) {
		t.Fatalf("expected one attempt to cost %d, got %f", retryPenaltyMs, got)
	}
}

func TestRetryPenaltyNeverLeavesClassBand(t *testing.T) {
	now := time.Now().UTC()

	// Enough attempts to drive the bonus far negative without clamping.
	battered := priorityScore(scoredJob(PriorityHigh, now, 1<<30))
	if battered != classWeight(PriorityHigh) {
		t.Fatalf("expected clamp at band floor %f, got %f", classWeight(PriorityHigh), battered)
	}

	freshLower := priorityScore(scoredJob(PriorityNormal, now, 0))
	if battered <= freshLower {
		t.Fatalf("battered high job (%f) dropped below fresh normal job (%f)", battered, freshLower)
	}
}
