// Command api serves the admission and read endpoints of the queue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zhehaow/inferq/internal/ai"
	"github.com/zhehaow/inferq/internal/archive"
	"github.com/zhehaow/inferq/internal/config"
	"github.com/zhehaow/inferq/internal/db"
	"github.com/zhehaow/inferq/internal/httpapi"
	"github.com/zhehaow/inferq/internal/metrics"
	"github.com/zhehaow/inferq/internal/queue"
	"github.com/zhehaow/inferq/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store queue.Store
	if strings.EqualFold(cfg.StoreBackend, "memory") {
		store = queue.NewMemoryStore()
	} else {
		s, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer s.Close()
		store = s
	}

	// The api only validates provider names at admission; workers own
	// the actual provider instances. Registration must mirror the
	// worker's so admission and execution agree on what is known.
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
			return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
				cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
		})
	}

	q := queue.NewService(store, reg, logger, queue.Config{
		CompletedTTL: cfg.CompletedTTL,
		FailedTTL:    cfg.FailedTTL,
	})

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	repo := archive.NewRepo(gdb)

	m := metrics.New()
	router := httpapi.NewRouter(cfg, q, repo, m)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("api server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("api server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
