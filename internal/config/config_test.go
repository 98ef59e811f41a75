package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Agents.ConsensusThreshold != 0.6 {
		t.Errorf("consensus threshold = %v, want 0.6", cfg.Agents.ConsensusThreshold)
	}
	if cfg.Detection.ZScoreThreshold != 3.0 {
		t.Errorf("zscore threshold = %v, want 3.0", cfg.Detection.ZScoreThreshold)
	}
	if cfg.Correlation.WindowSize != 30 {
		t.Errorf("correlation window = %d, want 30", cfg.Correlation.WindowSize)
	}
	if cfg.KnowledgeGraph.MaxNodes != 1000 {
		t.Errorf("graph max nodes = %d, want 1000", cfg.KnowledgeGraph.MaxNodes)
	}
	if cfg.Engine.AgentTimeout != 30*time.Second {
		t.Errorf("agent timeout = %v, want 30s", cfg.Engine.AgentTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STREAMLENS_ZSCORE_THRESHOLD", "2.5")
	t.Setenv("STREAMLENS_GRAPH_MAX_NODES", "50")
	t.Setenv("STREAMLENS_ENABLE_ML_DETECTORS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detection.ZScoreThreshold != 2.5 {
		t.Errorf("zscore threshold = %v, want 2.5", cfg.Detection.ZScoreThreshold)
	}
	if cfg.KnowledgeGraph.MaxNodes != 50 {
		t.Errorf("graph max nodes = %d, want 50", cfg.KnowledgeGraph.MaxNodes)
	}
	if !cfg.Detection.EnableMLDetectors {
		t.Error("ML detectors should be enabled")
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "staging-ish" }},
		{"bad port", func(c *Config) { c.HTTPPort = -1 }},
		{"consensus above one", func(c *Config) { c.Agents.ConsensusThreshold = 1.5 }},
		{"alpha above one", func(c *Config) { c.Detection.ExpSmoothingAlpha = 1.2 }},
		{"inverted MA windows", func(c *Config) { c.Detection.MAShortWindow = 30 }},
		{"zero graph capacity", func(c *Config) { c.KnowledgeGraph.MaxNodes = 0 }},
		{"unknown bus", func(c *Config) { c.Bus.Backend = "kafka" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
