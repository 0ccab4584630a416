// Command worker runs the inference worker pool and the cleanup sweeper.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhehaow/inferq/internal/ai"
	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/config"
	"github.com/zhehaow/inferq/internal/db"
	"github.com/zhehaow/inferq/internal/events"
	"github.com/zhehaow/inferq/internal/metrics"
	"github.com/zhehaow/inferq/internal/queue"
	"github.com/zhehaow/inferq/internal/store/redisstore"
	"github.com/zhehaow/inferq/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer cleanup()

	reg := newRegistry(cfg)

	q := queue.NewService(store, reg, logger, queue.Config{
		CompletedTTL: cfg.CompletedTTL,
		FailedTTL:    cfg.FailedTTL,
	})

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	repo := archive.NewRepo(gdb)

	var pub worker.Publisher
	if cfg.RabbitURL != "" {
		p, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Fatal("rabbit dial", zap.Error(err))
		}
		defer p.Close()
		pub = p
	}

	m := metrics.New()

	// Metrics endpoint for Prometheus scraping.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Depth gauges follow the store counters.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := q.Stats(ctx)
				if err != nil {
					continue
				}
				m.PendingDepth.Set(float64(stats.Pending))
				m.ProcessingDepth.Set(float64(stats.Processing))
			}
		}
	}()

	go queue.NewSweeper(store, logger, cfg.SweepInterval).Run(ctx)

	pool := worker.NewPool(q, reg, repo, pub, m, logger, worker.Config{
		PollInterval: cfg.PollInterval,
	})
	pool.Run(ctx, cfg.WorkerConcurrency)
}

func openStore(ctx context.Context, cfg config.Config) (queue.Store, func(), error) {
	if strings.EqualFold(cfg.StoreBackend, "memory") {
		return queue.NewMemoryStore(), func() {}, nil
	}
	s, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
			_ = ctx
			m := strings.TrimSpace(model)
			if m == "" {
				m = cfg.OpenRouterModel
			}
			return ai.NewOpenRouterProvider(
				cfg.OpenRouterBaseURL,
				cfg.OpenRouterAPIKey,
				m,
				cfg.OpenRouterSiteURL,
				cfg.OpenRouterAppName,
			), nil
		})
	}

	return reg
}
