// Package api provides the HTTP API for observing the freight market.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auditor"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/engine"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// Server serves the market state over HTTP.
type Server struct {
	Market   *engine.Market
	Eng      *engine.Engine
	Auditor  *auditor.Auditor
	Events   *telemetry.Recorder
	Store    reputation.Store
	Snapshot func() error // Persists the world and shipments in transit; nil = snapshots unavailable.
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	ReportLimit  int // Reports per IP per hour.
	ReportWindow int // Deals each report covers.
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	reportLimiter := NewRateLimiter(max(1, s.ReportLimit), time.Hour)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/world", s.handleWorld)
	mux.HandleFunc("/api/v1/route", s.handleRoute)
	mux.HandleFunc("/api/v1/demand", s.handleDemand)
	mux.HandleFunc("/api/v1/shipments", s.handleShipments)
	mux.HandleFunc("/api/v1/deals", s.handleDeals)
	mux.HandleFunc("/api/v1/reputation", s.handleReputation)
	mux.HandleFunc("/api/v1/auctions", s.handleAuctions)
	mux.HandleFunc("/api/v1/carriers", s.handleCarriers)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/report", RateLimitMiddleware(reportLimiter, s.handleReport))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/intervention", s.adminOnly(s.handleIntervention))

	return corsMiddleware(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("HTTP API stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no FREIGHTSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// queryInt reads a positive integer parameter, falling back to def when
// missing or out of (0, hi].
func queryInt(r *http.Request, key string, def, hi int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= hi {
			return n
		}
	}
	return def
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sum := s.Market.Summary()
	status := map[string]any{
		"name":     "freightsim",
		"tick":     sum.Tick,
		"sim_time": sum.SimTime,
		"mode":     sum.Mode,
		"market":   sum,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.World.Snapshot())
}

// handleRoute prices a lane: GET /api/v1/route?from=A&to=B&weight=500.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		http.Error(w, "from and to are required", http.StatusBadRequest)
		return
	}
	weight := 1000.0
	if v := q.Get("weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			http.Error(w, "weight must be a positive number", http.StatusBadRequest)
			return
		}
		weight = f
	}

	path, err := s.Market.World.ShortestPath(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	fair, err := s.Market.World.FairPriceRange(from, to, weight)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"path":       path,
		"fair_price": fair,
		"weight_kg":  weight,
	})
}

func (s *Server) handleDemand(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.Heartbeat.States())
}

func (s *Server) handleShipments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.InTransit())
}

// handleDeals lists history: ?limit=&agent=&outcome=.
func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	q := reputation.Query{
		AgentID: r.URL.Query().Get("agent"),
		Outcome: domain.Outcome(strings.ToUpper(r.URL.Query().Get("outcome"))),
		Limit:   queryInt(r, "limit", 50, 500),
	}
	deals, err := s.Store.QueryDeals(r.Context(), q)
	if err != nil {
		slog.Error("deal query failed", "error", err)
		http.Error(w, "deal history unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, deals)
}

// handleReputation returns one agent (?agent=ID) or a leaderboard
// (?type=carrier&metric=overall_score&limit=10).
func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.URL.Query().Get("agent"); id != "" {
		score, err := s.Store.LoadReputation(ctx, id)
		if err != nil {
			slog.Error("reputation load failed", "agent", id, "error", err)
			http.Error(w, "reputation unavailable", http.StatusServiceUnavailable)
			return
		}
		if score == nil {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		stats, err := s.Store.DealStats(ctx, id)
		if err != nil {
			slog.Warn("deal stats failed", "agent", id, "error", err)
		}
		writeJSON(w, map[string]any{
			"reputation": score,
			"advice":     reputation.Advise(score),
			"deals":      stats,
		})
		return
	}

	agentType := domain.AgentType(strings.ToUpper(r.URL.Query().Get("type")))
	metric := reputation.MetricOverall
	if m := r.URL.Query().Get("metric"); m != "" {
		metric = reputation.Metric(m)
	}
	if !metric.Valid() {
		http.Error(w, fmt.Sprintf("unknown metric %q", metric), http.StatusBadRequest)
		return
	}
	top, err := s.Store.TopAgents(ctx, agentType, queryInt(r, "limit", 10, 100), metric)
	if err != nil {
		slog.Error("leaderboard failed", "error", err)
		http.Error(w, "reputation unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, top)
}

func (s *Server) handleAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.Auctions.History(queryInt(r, "limit", 20, 500)))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"fleet":    s.Market.Fleet(),
		"auctions": s.Market.Auctions.CarrierStats(),
	})
}

// handleEvents returns recent telemetry, optionally filtered by ?type=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	if t := r.URL.Query().Get("type"); t != "" {
		events := s.Events.Filter(telemetry.EventType(t))
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
		writeJSON(w, events)
		return
	}
	writeJSON(w, s.Events.Recent(limit))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Auditor.Report(r.Context(), s.ReportWindow)
	if err != nil {
		slog.Error("market report failed", "error", err)
		http.Error(w, "report unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{
		"report":    rep,
		"narrative": s.Auditor.Narrative(r.Context(), rep),
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Snapshot == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.Snapshot(); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.Market.World.TickCount(),
		"message": "snapshot saved",
	})
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var iv engine.Intervention
	if err := json.NewDecoder(r.Body).Decode(&iv); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	desc, err := s.Market.Intervene(iv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "description": desc})
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, world.ErrUnknownCity), errors.Is(err, engine.ErrUnknownRoute):
		status = http.StatusNotFound
	case errors.Is(err, world.ErrNoRoute):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
