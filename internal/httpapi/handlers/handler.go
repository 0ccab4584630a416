package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/config"
	"github.com/zhehaow/inferq/internal/httpapi/middleware"
	"github.com/zhehaow/inferq/internal/metrics"
	"github.com/zhehaow/inferq/internal/queue"
)

type Handler struct {
	Cfg     config.Config
	Queue   *queue.Service
	Archive *archive.Repo
	Metrics *metrics.Metrics
}

func NewHandler(cfg config.Config, q *queue.Service, arch *archive.Repo, m *metrics.Metrics) *Handler {
	return &Handler{Cfg: cfg, Queue: q, Archive: arch, Metrics: m}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) string {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

func orgIDFromContext(c *gin.Context) string {
	v, ok := c.Get(middleware.OrgIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
