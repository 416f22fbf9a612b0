package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auditor"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/engine"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/heartbeat"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	w := world.NewTexas()
	store := reputation.NewMemoryStore()
	rec := telemetry.NewRecorder(128)

	cfg := heartbeat.DefaultConfig()
	cfg.DepletionRate = 0
	m, err := engine.NewMarket(w, reputation.NewLedger(store), domain.DefaultFleet(),
		engine.WithHeartbeat(heartbeat.New(w, cfg, heartbeat.WithSink(rec))),
		engine.WithMarketSink(rec))
	require.NoError(t, err)

	s := &Server{
		Market:       m,
		Eng:          engine.NewEngine(),
		Auditor:      auditor.New(store, auditor.WithWorld(w)),
		Events:       rec,
		Store:        store,
		AdminKey:     "secret",
		ReportLimit:  2,
		ReportWindow: 50,
	}
	return s, s.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func post(t *testing.T, h http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// shipOne runs an auction and lands its shipment so the store has a deal.
func shipOne(t *testing.T, s *Server) {
	t.Helper()
	ctx := context.Background()
	s.Market.Handle(ctx, domain.Order{
		ID: "ORD-1", Origin: "Houston", Destination: "Corpus Christi", WeightKg: 1000, VolumeM3: 5,
		Priority: domain.PriorityCritical, MaxBudget: 630, DeadlineHours: 6, CreatedAt: time.Now(),
	}, 0)
	for i := 1; i <= 5; i++ {
		s.Market.Tick(ctx, uint64(i))
	}
}

func TestStatusAndWorld(t *testing.T) {
	_, h := newTestServer(t)

	rr := get(t, h, "/api/v1/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var status map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "auction", status["mode"])
	assert.Equal(t, 1.0, status["speed"])

	rr = get(t, h, "/api/v1/world")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap world.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Len(t, snap.Cities, 5)
	assert.Len(t, snap.Routes, 7)
}

func TestRoute(t *testing.T) {
	_, h := newTestServer(t)

	rr := get(t, h, "/api/v1/route?from=Corpus%20Christi&to=Houston&weight=500")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		FairPrice world.PriceRange `json:"fair_price"`
		Path      world.Path       `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.InDelta(t, 525.0, body.FairPrice.Min, 1e-9)
	assert.Equal(t, []string{"Corpus Christi", "Houston"}, body.Path.Cities)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/route?from=Houston").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/route?from=Houston&to=Dallas&weight=-1").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/route?from=Houston&to=El%20Paso").Code)
}

func TestDealsReputationAndAuctions(t *testing.T) {
	s, h := newTestServer(t)
	shipOne(t, s)

	rr := get(t, h, "/api/v1/deals?outcome=success")
	require.Equal(t, http.StatusOK, rr.Code)
	var deals []domain.Deal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deals))
	require.Len(t, deals, 1)
	assert.Equal(t, "CR-BUDGET-001", deals[0].CarrierID)

	rr = get(t, h, "/api/v1/reputation?agent=CR-BUDGET-001")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"tier": "trusted"`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/reputation?agent=CR-NOBODY").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/reputation?metric=charm").Code)

	rr = get(t, h, "/api/v1/reputation?type=carrier&limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	var top []reputation.Score
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &top))
	require.Len(t, top, 1)

	rr = get(t, h, "/api/v1/auctions")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"winner_id": "CR-BUDGET-001"`)

	rr = get(t, h, "/api/v1/carriers")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total_wins": 1`)

	rr = get(t, h, "/api/v1/events?type=deal_recorded")
	require.Equal(t, http.StatusOK, rr.Code)
	var events []telemetry.Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	assert.Len(t, events, 1)
}

func TestReportIsRateLimited(t *testing.T) {
	s, h := newTestServer(t)
	shipOne(t, s)

	rr := get(t, h, "/api/v1/report")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"market_health": "HEALTHY"`)
	assert.Contains(t, rr.Body.String(), `"narrative"`)

	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/report").Code)
	rr = get(t, h, "/api/v1/report")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestAdminEndpoints(t *testing.T) {
	s, h := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/api/v1/speed", "", `{"speed": 2}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/api/v1/speed", "wrong", `{"speed": 2}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/api/v1/speed", "secret", `{"speed": 5000}`).Code)

	rr := post(t, h, "/api/v1/speed", "secret", `{"speed": 2}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2.0, s.Eng.Speed())

	rr = post(t, h, "/api/v1/intervention", "secret",
		`{"type": "close_route", "source": "Houston", "target": "Dallas"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	r, _ := s.Market.World.Route("Dallas", "Houston")
	assert.False(t, r.IsOpen)

	rr = post(t, h, "/api/v1/intervention", "secret",
		`{"type": "close_route", "source": "Houston", "target": "El Paso"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = post(t, h, "/api/v1/intervention", "secret", `{"type": "restock", "city": "Austin", "units": 100}`)
	require.Equal(t, http.StatusOK, rr.Code)
	austin, _ := s.Market.World.City("Austin")
	assert.Equal(t, 1300, austin.CurrentInventory)

	assert.Equal(t, http.StatusServiceUnavailable, post(t, h, "/api/v1/snapshot", "secret", "").Code)
	saved := false
	s.Snapshot = func() error { saved = true; return nil }
	assert.Equal(t, http.StatusOK, post(t, h, "/api/v1/snapshot", "secret", "").Code)
	assert.True(t, saved)
	s.Snapshot = func() error { return errors.New("disk full") }
	assert.Equal(t, http.StatusInternalServerError, post(t, h, "/api/v1/snapshot", "secret", "").Code)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s, _ := newTestServer(t)
	s.AdminKey = ""
	h := s.Handler()
	assert.Equal(t, http.StatusForbidden, post(t, h, "/api/v1/speed", "", `{"speed": 2}`).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/speed").Code)
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
	assert.Equal(t, 60, rl.RetryAfter("1.2.3.4"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.Equal(t, 0, rl.RetryAfter("9.9.9.9"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
