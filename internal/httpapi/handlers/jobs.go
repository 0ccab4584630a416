package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zhehaow/inferq/internal/ai"
	"github.com/zhehaow/inferq/internal/queue"
)

type messageReq struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type optionsReq struct {
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stream      bool     `json:"stream"`
}

type createCompletionReq struct {
	Provider    string       `json:"provider" binding:"required"`
	Model       string       `json:"model"`
	Messages    []messageReq `json:"messages" binding:"required"`
	Options     optionsReq   `json:"options"`
	Priority    string       `json:"priority"`
	MaxAttempts int          `json:"max_attempts"`
	TimeoutMs   int64        `json:"timeout_ms"`
	SessionID   string       `json:"session_id"`
}

// CreateCompletion admits an inference request into the queue and
// returns the job id for polling.
func (h *Handler) CreateCompletion(c *gin.Context) {
	uid := userIDFromContext(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createCompletionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msgs := make([]ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	payload := queue.Payload{
		Provider: req.Provider,
		Model:    req.Model,
		Messages: msgs,
		Options: ai.Options{
			Temperature: req.Options.Temperature,
			MaxTokens:   req.Options.MaxTokens,
			Stream:      req.Options.Stream,
		},
	}
	opts := queue.EnqueueOptions{
		Priority:    queue.PriorityClass(req.Priority),
		MaxAttempts: req.MaxAttempts,
		TimeoutMs:   req.TimeoutMs,
		Submitter: queue.Submitter{
			UserID:    uid,
			OrgID:     orgIDFromContext(c),
			SessionID: req.SessionID,
		},
	}

	j, err := h.Queue.Enqueue(c.Request.Context(), payload, opts)
	if err != nil {
		if errors.Is(err, queue.ErrValidation) {
			fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		fail(c, http.StatusServiceUnavailable, 50301, "failed to enqueue job")
		return
	}

	if h.Metrics != nil {
		h.Metrics.JobsEnqueued.WithLabelValues(string(j.Priority)).Inc()
	}

	ok(c, gin.H{"job_id": j.ID})
}

// GetJob reports a job's position in its lifecycle.
func (h *Handler) GetJob(c *gin.Context) {
	uid := userIDFromContext(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	st, err := h.Queue.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		fail(c, http.StatusServiceUnavailable, 50302, "failed to read job status")
		return
	}
	if st.Kind == queue.StatusNotFound {
		fail(c, http.StatusNotFound, 40401, "job not found")
		return
	}

	ok(c, st)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, 50303, "failed to read stats")
		return
	}
	ok(c, stats)
}

// GetUsage lists archived records and token totals for the caller.
func (h *Handler) GetUsage(c *gin.Context) {
	uid := userIDFromContext(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Archive == nil {
		fail(c, http.StatusNotImplemented, 50101, "archive is not configured")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	usage, err := h.Archive.UsageByUser(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "failed to read usage")
		return
	}
	recs, err := h.Archive.ListByUser(c.Request.Context(), uid, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list records")
		return
	}

	ok(c, gin.H{
		"usage":   usage,
		"records": recs,
	})
}
