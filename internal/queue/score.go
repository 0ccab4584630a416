package queue

// Priority scoring. Each class owns a disjoint score band; inside a band
// the score grows with the time a job has waited, so dequeue (pop-max)
// serves classes strictly by weight and FIFO within a class.
//
// The age bonus is expressed against a fixed horizon rather than
// recomputed on every read: an older createdAt yields a larger bonus,
// which orders identically to "now - createdAt" without rewriting
// scores as time passes.
const (
	// classBandWidth separates class bands. The age bonus is bounded by
	// scoreHorizonMs, so no bonus can ever cross into the next band.
	classBandWidth = 1e13

	// scoreHorizonMs is 2100-01-01T00:00:00Z in unix milliseconds.
	scoreHorizonMs int64 = 4102444800000

	// retryPenaltyMs is deducted from the age bonus per failed attempt,
	// the equivalent of five seconds of waiting. A repeatedly failing
	// job degrades toward, but never below, its own class band floor.
	retryPenaltyMs int64 = 5000
)

func classWeight(c PriorityClass) float64 {
	switch c {
	case PriorityCritical:
		return 3 * classBandWidth
	case PriorityHigh:
		return 2 * classBandWidth
	case PriorityLow:
		return 0
	default:
		return 1 * classBandWidth
	}
}

// priorityScore computes the pending-set score for a job. Recomputed on
// every (re)insertion; the attempt counter carries the retry penalty.
func priorityScore(j *Job) float64 {
	bonus := scoreHorizonMs - j.CreatedAt.UnixMilli() - int64(j.Attempt)*retryPenaltyMs
	if bonus < 0 {
		bonus = 0
	}
	return classWeight(j.Priority) + float64(bonus)
}
