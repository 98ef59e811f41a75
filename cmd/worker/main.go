// Command worker runs scheduled detection cycles: on each cron tick it
// collects a batch from the configured source adapters, runs a full
// analysis cycle, and mirrors the results onto the event bus.
//
// Without live adapters configured it runs the bundled replay fixtures,
// which exercise every agent deterministically.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/example/streamlens/internal/app"
	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/logging"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/sources"
)

func main() {
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

	adapters := replayAdapters()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Worker.Schedule, func() {
		runCycle(ctx, pipeline, adapters)
	})
	if err != nil {
		log.Fatalf("invalid worker schedule %q: %v", cfg.Worker.Schedule, err)
	}

	pipeline.Logger.Info("worker starting", "schedule", cfg.Worker.Schedule, "adapters", len(adapters))
	scheduler.Start()

	// One immediate cycle so the pipeline is warm before the first tick.
	runCycle(ctx, pipeline, adapters)

	<-ctx.Done()
	pipeline.Logger.Info("worker shutting down")

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		pipeline.Logger.Warn("scheduler stop timed out")
	}
}

func runCycle(ctx context.Context, pipeline *app.Pipeline, adapters []sources.Adapter) {
	if ctx.Err() != nil {
		return
	}

	batch := sources.CollectAll(ctx, adapters, pipeline.Logger)
	cycleCtx := logging.WithCycleID(ctx, pipeline.Engine.Ingest(batch))

	result, err := pipeline.Engine.Analyze(cycleCtx, batch, nil)
	if err != nil {
		logging.FromContext(cycleCtx).Error("cycle failed", "error", err)
		return
	}

	logging.FromContext(cycleCtx).Info("cycle complete",
		"points", len(batch),
		"reports", result.TotalAnomalies,
		"high_severity", result.HighSeverityCount,
	)
	pipeline.PublishResult(cycleCtx, result)
}

// replayAdapters builds the bundled deterministic fixtures: a crypto price
// ramp with a flash crash, a parallel commit-count spike, and a derivatives
// stream with a bullish divergence.
func replayAdapters() []sources.Adapter {
	base := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Minute)

	var crypto, github, oi []model.DataPoint
	for i := 0; i < 120; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)

		price := 60000 + 50*float64(i%7)
		if i == 60 {
			price *= 0.7
		}
		crypto = append(crypto, model.DataPoint{
			Source:    model.SourceCryptocurrency,
			Symbol:    "BTCUSDT",
			Metric:    model.MetricPriceUSD,
			Value:     price,
			Timestamp: ts,
		})

		commits := 12 + float64(i%5)
		if i >= 59 && i <= 61 {
			commits *= 3
		}
		github = append(github, model.DataPoint{
			Source:    model.SourceGitHub,
			Metric:    "commit_count",
			Value:     commits,
			Timestamp: ts,
		})
	}

	oiTS := base.Add(119 * time.Minute)
	oi = append(oi,
		model.DataPoint{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricOpenInterest, Value: 1000000, Timestamp: oiTS.Add(-time.Minute)},
		model.DataPoint{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricOpenInterest, Value: 1060000, Timestamp: oiTS},
		model.DataPoint{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricFundingRate, Value: 0.12, Timestamp: oiTS},
		model.DataPoint{Source: model.SourceOIDerivatives, Symbol: "BTCUSDT", Metric: model.MetricLongShortRatio, Value: 3.4, Timestamp: oiTS},
	)

	return []sources.Adapter{
		sources.NewReplay(model.SourceCryptocurrency, [][]model.DataPoint{crypto}),
		sources.NewReplay(model.SourceGitHub, [][]model.DataPoint{github}),
		sources.NewReplay(model.SourceOIDerivatives, [][]model.DataPoint{oi}),
	}
}
