// Package app wires the pipeline's components together for the binaries:
// configuration, logging, agents, coordinator, knowledge graph, engine, and
// event bus. Both cmd/api and cmd/worker build the same pipeline and differ
// only in what drives it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/streamlens/internal/agents"
	"github.com/example/streamlens/internal/config"
	"github.com/example/streamlens/internal/coordinator"
	"github.com/example/streamlens/internal/detect"
	"github.com/example/streamlens/internal/engine"
	"github.com/example/streamlens/internal/events"
	"github.com/example/streamlens/internal/graph"
	"github.com/example/streamlens/internal/logging"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/observability"
)

// Pipeline bundles the wired components.
type Pipeline struct {
	Config  config.Config
	Logger  *slog.Logger
	Engine  *engine.Engine
	Graph   *graph.Graph
	Bus     events.Bus
	Metrics *observability.Metrics
	Tracer  *observability.TracerProvider
}

// Build assembles the pipeline from a loaded configuration.
func Build(ctx context.Context, cfg config.Config) (*Pipeline, error) {
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})

	metrics := observability.NewMetrics()

	tracer, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:  "streamlens",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: tracing setup: %w", err)
	}

	g := graph.New(graph.Config{
		MaxNodes:            cfg.KnowledgeGraph.MaxNodes,
		EdgeExpiry:          time.Duration(cfg.KnowledgeGraph.EdgeExpiryHours) * time.Hour,
		SimilarityThreshold: cfg.KnowledgeGraph.SimilarityThreshold,
		Logger:              logger,
	})

	coord := coordinator.New(coordinator.Config{
		ConsensusThreshold: cfg.Agents.ConsensusThreshold,
		Logger:             logger,
	}, g)

	agentList := buildAgents(cfg, logger)

	eng := engine.New(engine.Config{
		AgentTimeout: cfg.Engine.AgentTimeout,
		HistoryLimit: cfg.Engine.HistoryLimit,
		Metrics:      metrics,
		Logger:       logger,
	}, agentList, coord, g)

	bus, err := buildBus(cfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Config:  cfg,
		Logger:  logger,
		Engine:  eng,
		Graph:   g,
		Bus:     bus,
		Metrics: metrics,
		Tracer:  tracer,
	}, nil
}

// PublishResult mirrors a completed cycle onto the event bus.
func (p *Pipeline) PublishResult(ctx context.Context, result model.AnalysisResult) {
	if p.Bus == nil {
		return
	}

	cycleEvent := events.NewEvent(events.EventCycleCompleted, result).
		WithSource("engine").WithCycle(result.CycleID)
	if err := p.Bus.Publish(ctx, cycleEvent); err != nil {
		p.Logger.Warn("cycle event publish failed", "error", err)
	}

	for _, report := range result.Reports {
		reportEvent := events.NewEvent(events.EventReportCreated, report).
			WithSource("coordinator").WithCycle(result.CycleID)
		if err := p.Bus.Publish(ctx, reportEvent); err != nil {
			p.Logger.Warn("report event publish failed", "anomaly_id", report.AnomalyID, "error", err)
		}
	}
}

// Shutdown flushes and closes long-lived resources.
func (p *Pipeline) Shutdown(ctx context.Context) {
	if p.Bus != nil {
		if err := p.Bus.Close(); err != nil {
			p.Logger.Warn("bus close failed", "error", err)
		}
	}
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			p.Logger.Warn("tracer shutdown failed", "error", err)
		}
	}
}

func buildAgents(cfg config.Config, logger *slog.Logger) []agents.Agent {
	return []agents.Agent{
		agents.NewStatistical(agents.StatisticalConfig{
			Weight:        cfg.Agents.StatisticalWeight,
			MinConfidence: cfg.Agents.StatisticalMinConfidence,
			EnableML:      cfg.Detection.EnableMLDetectors,
			ZScore:        detect.ZScoreConfig{Threshold: cfg.Detection.ZScoreThreshold},
			ModifiedZ:     detect.ModifiedZConfig{Threshold: cfg.Detection.ModifiedZThreshold},
			IQR:           detect.IQRConfig{Multiplier: cfg.Detection.IQRMultiplier},
			CUSUM: detect.CUSUMConfig{
				Threshold: cfg.Detection.CUSUMThreshold,
				Drift:     cfg.Detection.CUSUMDrift,
			},
			Logger: logger,
		}),
		agents.NewTemporal(agents.TemporalConfig{
			Weight:        cfg.Agents.TemporalWeight,
			MinConfidence: cfg.Agents.TemporalMinConfidence,
			ChangePoint: detect.ChangePointConfig{
				MinSize: cfg.Detection.ChangePointMinSize,
				Penalty: cfg.Detection.ChangePointPenalty,
			},
			ExpSmoothing: detect.ExpSmoothingConfig{Alpha: cfg.Detection.ExpSmoothingAlpha},
			MACrossover: detect.MACrossoverConfig{
				ShortWindow: cfg.Detection.MAShortWindow,
				LongWindow:  cfg.Detection.MALongWindow,
				Threshold:   cfg.Detection.MADeviationPct,
			},
			Logger: logger,
		}),
		agents.NewCorrelation(agents.CorrelationConfig{
			Weight:            cfg.Agents.CorrelationWeight,
			MinConfidence:     cfg.Agents.CorrelationMinConfidence,
			PearsonThreshold:  cfg.Correlation.PearsonThreshold,
			SpearmanThreshold: cfg.Correlation.SpearmanThreshold,
			WindowSize:        cfg.Correlation.WindowSize,
			BreakThreshold:    cfg.Correlation.BreakThreshold,
			Logger:            logger,
		}),
		agents.NewContext(agents.ContextConfig{
			Weight:        cfg.Agents.ContextWeight,
			MinConfidence: cfg.Agents.ContextMinConfidence,
			Logger:        logger,
		}),
		agents.NewOI(agents.OIConfig{
			Weight:        cfg.Agents.OIWeight,
			MinConfidence: cfg.Agents.OIMinConfidence,
			Divergence: detect.OIDivergenceConfig{
				PriceThreshold: cfg.Detection.OIPriceThreshold,
				OIThreshold:    cfg.Detection.OIChangeThreshold,
				SpikeThreshold: cfg.Detection.OISpikeThreshold,
			},
			Logger: logger,
		}),
	}
}

// buildBus selects the event backend. The NATS and Redis backends are
// compiled in behind their build tags; without them configuration falls
// back to the in-memory bus.
func buildBus(cfg config.Config) (events.Bus, error) {
	switch cfg.Bus.Backend {
	case "memory":
		return events.NewInMemoryBus(), nil
	default:
		return newTaggedBus(cfg)
	}
}
