package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// Scenario describes a network and its carrier fleet, usually read from a
// YAML file.
type Scenario struct {
	Cities   []ScenarioCity   `yaml:"cities"`
	Routes   []ScenarioRoute  `yaml:"routes"`
	Carriers []domain.Carrier `yaml:"carriers"`
}

// ScenarioCity is a city entry.
type ScenarioCity struct {
	Name              string  `yaml:"name"`
	Lat               float64 `yaml:"latitude"`
	Lon               float64 `yaml:"longitude"`
	WarehouseCapacity int     `yaml:"warehouse_capacity"`
	CurrentInventory  int     `yaml:"current_inventory"`
	DemandRate        float64 `yaml:"demand_rate"`
}

// ScenarioRoute is a route entry. Omitted conditions take the defaults of
// AddRoute.
type ScenarioRoute struct {
	Source         string        `yaml:"source"`
	Target         string        `yaml:"target"`
	BaseDistance   float64       `yaml:"base_distance"`
	FuelMultiplier float64       `yaml:"fuel_multiplier"`
	Weather        WeatherStatus `yaml:"weather"`
	Congestion     float64       `yaml:"congestion"`
	Closed         bool          `yaml:"closed"`
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Cities) == 0 {
		return nil, fmt.Errorf("parse scenario: no cities")
	}
	for _, c := range s.Carriers {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("parse scenario: %w", err)
		}
	}
	return &s, nil
}

// Build creates a World from the scenario.
func (s *Scenario) Build() (*World, error) {
	w := New()
	for _, c := range s.Cities {
		if err := w.AddCity(City{
			Name:              c.Name,
			Lat:               c.Lat,
			Lon:               c.Lon,
			WarehouseCapacity: c.WarehouseCapacity,
			CurrentInventory:  c.CurrentInventory,
			DemandRate:        c.DemandRate,
		}); err != nil {
			return nil, err
		}
	}
	for _, r := range s.Routes {
		if err := w.AddRoute(r.Source, r.Target, r.BaseDistance); err != nil {
			return nil, err
		}
		if r.FuelMultiplier > 0 {
			w.UpdateFuelMultiplier(r.Source, r.Target, r.FuelMultiplier)
		}
		if r.Congestion > 0 {
			w.UpdateCongestion(r.Source, r.Target, r.Congestion)
		}
		if r.Weather != "" && !w.UpdateWeather(r.Source, r.Target, r.Weather) {
			return nil, fmt.Errorf("route %s-%s: unknown weather %q", r.Source, r.Target, r.Weather)
		}
		if r.Closed {
			w.CloseRoute(r.Source, r.Target)
		}
	}
	return w, nil
}
