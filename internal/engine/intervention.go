package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// ErrUnknownRoute is returned when an intervention names a missing route.
var ErrUnknownRoute = errors.New("unknown route")

// Intervention kinds accepted by Intervene.
const (
	InterventionCloseRoute = "close_route"
	InterventionOpenRoute  = "open_route"
	InterventionWeather    = "weather"
	InterventionFuel       = "fuel"
	InterventionRestock    = "restock"
	InterventionAddCarrier = "add_carrier"
)

// Intervention is an operator action on the market, usually posted to the
// admin API.
type Intervention struct {
	Type    string              `json:"type"`
	Source  string              `json:"source,omitempty"`
	Target  string              `json:"target,omitempty"`
	City    string              `json:"city,omitempty"`
	Units   int                 `json:"units,omitempty"`
	Weather world.WeatherStatus `json:"weather,omitempty"`
	Fuel    float64             `json:"fuel_multiplier,omitempty"`
	Carrier *domain.Carrier     `json:"carrier,omitempty"`
}

// Intervene applies one intervention and describes it.
func (m *Market) Intervene(iv Intervention) (string, error) {
	switch iv.Type {
	case InterventionCloseRoute:
		return m.routeChange(iv, func() bool { return m.World.CloseRoute(iv.Source, iv.Target) },
			fmt.Sprintf("Road between %s and %s closed", iv.Source, iv.Target))
	case InterventionOpenRoute:
		return m.routeChange(iv, func() bool { return m.World.OpenRoute(iv.Source, iv.Target) },
			fmt.Sprintf("Road between %s and %s reopened", iv.Source, iv.Target))
	case InterventionWeather:
		if !iv.Weather.Valid() {
			return "", fmt.Errorf("unknown weather %q", iv.Weather)
		}
		return m.routeChange(iv, func() bool { return m.World.UpdateWeather(iv.Source, iv.Target, iv.Weather) },
			fmt.Sprintf("Weather on %s-%s set to %s", iv.Source, iv.Target, iv.Weather))
	case InterventionFuel:
		if iv.Fuel <= 0 {
			return "", fmt.Errorf("fuel multiplier must be positive")
		}
		return m.routeChange(iv, func() bool { return m.World.UpdateFuelMultiplier(iv.Source, iv.Target, iv.Fuel) },
			fmt.Sprintf("Fuel on %s-%s set to %.2fx", iv.Source, iv.Target, iv.Fuel))
	case InterventionRestock:
		return m.Restock(iv.City, iv.Units)
	case InterventionAddCarrier:
		if iv.Carrier == nil {
			return "", fmt.Errorf("add_carrier needs a carrier")
		}
		return m.AddCarrier(*iv.Carrier)
	}
	return "", fmt.Errorf("unknown intervention %q", iv.Type)
}

func (m *Market) routeChange(iv Intervention, apply func() bool, desc string) (string, error) {
	if !apply() {
		return "", fmt.Errorf("%w: %s-%s", ErrUnknownRoute, iv.Source, iv.Target)
	}
	m.emit(telemetry.EventWorldUpdate, "operator", desc, map[string]any{"intervention": iv.Type})
	slog.Info("intervention", "type", iv.Type, "source", iv.Source, "target", iv.Target)
	return desc, nil
}

// Restock delivers units to a city outside any deal.
func (m *Market) Restock(city string, units int) (string, error) {
	if units <= 0 {
		return "", fmt.Errorf("restock units must be positive, got %d", units)
	}
	inv, err := m.Heartbeat.Replenish(city, units)
	if err != nil {
		return "", err
	}
	desc := fmt.Sprintf("Emergency stock of %d units reaches %s (now %d)", units, city, inv)
	m.emit(telemetry.EventWorldUpdate, "operator", desc, map[string]any{"city": city, "units": units})
	slog.Info("restock intervention", "city", city, "units", units, "inventory", inv)
	return desc, nil
}

// AddCarrier joins a carrier to the fleet. IDs must be unique.
func (m *Market) AddCarrier(c domain.Carrier) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if !m.World.HasCity(c.Location) {
		return "", fmt.Errorf("carrier %s: %w: %s", c.ID, world.ErrUnknownCity, c.Location)
	}
	m.mu.Lock()
	for _, existing := range m.fleet {
		if existing.ID == c.ID {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: carrier %s already in fleet", domain.ErrInvalidAgent, c.ID)
		}
	}
	m.fleet = append(m.fleet, c)
	m.mu.Unlock()

	desc := fmt.Sprintf("%s (%s) joins the market from %s", c.CompanyName, c.ID, c.Location)
	m.emit(telemetry.EventSystem, "operator", desc, map[string]any{"carrier": c.ID, "persona": c.Persona})
	slog.Info("carrier added", "carrier", c.ID, "location", c.Location, "persona", c.Persona)
	return desc, nil
}
