// Command api serves the detection pipeline's HTTP and WebSocket façade:
// batch ingestion, on-demand analysis cycles, knowledge-graph queries, and
// the realtime result stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apihttp "github.com/example/streamlens/internal/api/http"
	"github.com/example/streamlens/internal/app"
	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/realtime"
)

func main() {
	// Load .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer pipeline.Shutdown(context.Background())

	hub := realtime.NewHub(pipeline.Logger)
	results, unsubscribe := pipeline.Engine.Subscribe()
	defer unsubscribe()
	go hub.Run(ctx, results)

	// Mirror cycles onto the event bus.
	busResults, busUnsubscribe := pipeline.Engine.Subscribe()
	defer busUnsubscribe()
	go func() {
		for result := range busResults {
			pipeline.PublishResult(ctx, result)
		}
	}()

	handler := apihttp.NewRouter(apihttp.RouterConfig{
		Engine:  pipeline.Engine,
		Hub:     hub,
		Metrics: pipeline.Metrics.Handler(),
		Logger:  pipeline.Logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		pipeline.Logger.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pipeline.Logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	pipeline.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		pipeline.Logger.Error("server shutdown failed", "error", err)
	}
}
