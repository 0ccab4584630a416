package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/common"
	"github.com/zhehaow/inferq/internal/config"
	"github.com/zhehaow/inferq/internal/httpapi/handlers"
	"github.com/zhehaow/inferq/internal/httpapi/middleware"
	"github.com/zhehaow/inferq/internal/metrics"
	"github.com/zhehaow/inferq/internal/queue"
)

func NewRouter(cfg config.Config, q *queue.Service, arch *archive.Repo, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(cfg, q, arch, m)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/v1/completions", h.CreateCompletion)
	authGroup.GET("/v1/jobs/:job_id", h.GetJob)
	authGroup.GET("/v1/stats", h.GetStats)
	authGroup.GET("/v1/usage", h.GetUsage)

	return r
}
