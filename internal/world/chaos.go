package world

import (
	"fmt"
	"math"
)

// RandSource yields floats in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

var chaosWeather = []WeatherStatus{WeatherClear, WeatherClear, WeatherRain, WeatherFog, WeatherStorm}

// Chaos perturbs route conditions. Each route independently gets a
// weather roll with probability level×0.5, a fuel nudge with probability
// level×0.3 and an open/closed toggle with probability level×0.05.
type Chaos struct {
	level float64
	rnd   RandSource
}

// NewChaos clamps level to [0, 1].
func NewChaos(level float64, rnd RandSource) *Chaos {
	return &Chaos{level: clamp(level, 0, 1), rnd: rnd}
}

// Level returns the clamped chaos level.
func (c *Chaos) Level() float64 { return c.level }

// chaosRoll is what one route drew for a pass.
type chaosRoll struct {
	weather   int // index into chaosWeather; -1 for no change
	fuel      bool
	fuelDelta float64
	toggle    bool
}

// roll draws for one route. A source such as the entropy client may block
// on the network, so this never runs under the world lock.
func (c *Chaos) roll() chaosRoll {
	r := chaosRoll{weather: -1}
	if c.rnd.Float64() < c.level*0.5 {
		r.weather = int(c.rnd.Float64()*float64(len(chaosWeather))) % len(chaosWeather)
	}
	if c.rnd.Float64() < c.level*0.3 {
		r.fuel = true
		r.fuelDelta = -0.2 + c.rnd.Float64()*0.5
	}
	r.toggle = c.rnd.Float64() < c.level*0.05
	return r
}

// Apply runs one pass over every route and describes what changed. All
// random draws happen before the world is locked.
func (c *Chaos) Apply(w *World) []string {
	w.mu.RLock()
	keys := append([]routeKey(nil), w.routeOrder...)
	w.mu.RUnlock()

	rolls := make([]chaosRoll, len(keys))
	for i := range rolls {
		rolls[i] = c.roll()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var changes []string
	for i, k := range keys {
		r, ok := w.routes[k]
		if !ok {
			continue
		}
		roll := rolls[i]

		if roll.weather >= 0 {
			status := chaosWeather[roll.weather]
			r.Weather = status
			if status != WeatherClear {
				changes = append(changes, fmt.Sprintf("Weather on %s changed to %s", r.Name(), status))
			}
		}

		if roll.fuel {
			delta := roll.fuelDelta
			r.FuelMultiplier = clamp(r.FuelMultiplier+delta, minFuel, maxFuel)
			if math.Abs(delta) > 0.1 {
				dir := "increase"
				if delta < 0 {
					dir = "decrease"
				}
				changes = append(changes, fmt.Sprintf("Fuel price %s on %s (%.2fx)", dir, r.Name(), r.FuelMultiplier))
			}
		}

		if roll.toggle {
			r.IsOpen = !r.IsOpen
			if r.IsOpen {
				changes = append(changes, fmt.Sprintf("Route %s reopened", r.Name()))
			} else {
				changes = append(changes, fmt.Sprintf("Route %s closed", r.Name()))
			}
		}
	}
	return changes
}
