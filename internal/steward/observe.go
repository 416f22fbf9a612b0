// Package steward implements the autonomous market steward.
// It observes the market via the API, decides on at most one intervention
// per cycle, and acts via the admin intervention endpoint.
package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auditor"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/engine"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/heartbeat"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// MarketSnapshot holds all data collected during an observation cycle.
type MarketSnapshot struct {
	Status MarketStatus                `json:"status"`
	Report auditor.Report              `json:"report"`
	World  world.Snapshot              `json:"world"`
	Demand []heartbeat.CityDemandState `json:"demand"`
}

// MarketStatus mirrors GET /api/v1/status.
type MarketStatus struct {
	Name    string         `json:"name"`
	Tick    uint64         `json:"tick"`
	SimTime string         `json:"sim_time"`
	Mode    engine.Mode    `json:"mode"`
	Speed   float64        `json:"speed"`
	Running bool           `json:"running"`
	Market  engine.Summary `json:"market"`
}

// Route finds a route in the snapshot regardless of direction.
func (s *MarketSnapshot) Route(a, b string) (world.Route, bool) {
	for _, r := range s.World.Routes {
		if (r.Source == a && r.Target == b) || (r.Source == b && r.Target == a) {
			return r, true
		}
	}
	return world.Route{}, false
}

// City finds a city in the snapshot.
func (s *MarketSnapshot) City(name string) (world.City, bool) {
	for _, c := range s.World.Cities {
		if c.Name == name {
			return c, true
		}
	}
	return world.City{}, false
}

// Observer fetches market state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the four endpoints and returns a MarketSnapshot.
func (o *Observer) Observe(ctx context.Context) (*MarketSnapshot, error) {
	snap := &MarketSnapshot{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	var report struct {
		Report auditor.Report `json:"report"`
	}
	if err := o.fetchJSON(ctx, "/api/v1/report", &report); err != nil {
		return nil, fmt.Errorf("fetch report: %w", err)
	}
	snap.Report = report.Report
	if err := o.fetchJSON(ctx, "/api/v1/world", &snap.World); err != nil {
		return nil, fmt.Errorf("fetch world: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/demand", &snap.Demand); err != nil {
		return nil, fmt.Errorf("fetch demand: %w", err)
	}

	return snap, nil
}

// Ready reports whether the status endpoint answers 200.
func (o *Observer) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/v1/status", nil)
	if err != nil {
		return false
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
