// Package http provides the thin HTTP and WebSocket façade over the
// detection core. All behavior lives in the engine and the knowledge graph;
// handlers only decode requests, call the core, and encode results.
//
// Route structure:
//
//	/healthz                 - liveness probe (public)
//	/metrics                 - Prometheus scrape endpoint
//	/ws                      - WebSocket result stream
//	/api/ingest              - POST a DataPoint batch
//	/api/analyze             - POST a batch and run a cycle
//	/api/graph/related       - related anomalies for an ID
//	/api/graph/causal        - causal chains from an ID
//	/api/graph/similar       - similar signatures for an ID
//	/api/graph/context       - full context for an ID
//	/api/graph/export        - graph snapshot
//	/api/graph/stats         - graph statistics
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/streamlens/internal/engine"
	"github.com/example/streamlens/internal/model"
	"github.com/example/streamlens/internal/realtime"
)

// RouterConfig holds the façade's dependencies.
type RouterConfig struct {
	Engine  *engine.Engine
	Hub     *realtime.Hub
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter assembles the HTTP mux.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{engine: cfg.Engine, hub: cfg.Hub, logger: logger.With("component", "api")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	if cfg.Hub != nil {
		mux.HandleFunc("GET /ws", cfg.Hub.ServeWS)
	}
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/graph/related", s.handleRelated)
	mux.HandleFunc("GET /api/graph/causal", s.handleCausal)
	mux.HandleFunc("GET /api/graph/similar", s.handleSimilar)
	mux.HandleFunc("GET /api/graph/context", s.handleContext)
	mux.HandleFunc("GET /api/graph/export", s.handleExport)
	mux.HandleFunc("GET /api/graph/stats", s.handleStats)
	return mux
}

type server struct {
	engine *engine.Engine
	hub    *realtime.Hub
	logger *slog.Logger
}

// ingestRequest is the wire shape of a batch submission.
type ingestRequest struct {
	Points []model.DataPoint `json:"points"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cycleID := s.engine.Ingest(req.Points)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"cycle_id": cycleID,
		"accepted": len(req.Points),
	})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.engine.Analyze(r.Context(), req.Points, nil)
	if err != nil {
		s.logger.Error("analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleRelated(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	distance := queryInt(r, "max_distance", 2)
	minConfidence := queryFloat(r, "min_confidence", 0.5)
	writeJSON(w, http.StatusOK, s.engine.Graph().FindRelated(id, distance, minConfidence))
}

func (s *server) handleCausal(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	if start == "" {
		writeError(w, http.StatusBadRequest, "missing start")
		return
	}
	end := r.URL.Query().Get("end")
	maxLen := queryInt(r, "max_length", 5)
	writeJSON(w, http.StatusOK, s.engine.Graph().FindCausalChain(start, end, maxLen))
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	topK := queryInt(r, "top_k", 5)
	writeJSON(w, http.StatusOK, s.engine.Graph().FindSimilar(id, topK))
}

func (s *server) handleContext(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	ctx, ok := s.engine.Graph().GetContext(id)
	if !ok {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (s *server) handleExport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Graph().ExportGraph())
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Graph().GetStats())
}

// =============================================================================
// Response Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"status":  status,
			"message": message,
		},
	})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func queryFloat(r *http.Request, key string, defaultVal float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
