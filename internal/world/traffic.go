package world

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// TrafficField drives congestion from smooth simplex noise sampled at each
// route's midpoint and the current sim day, so nearby roads congest
// together and conditions drift rather than jump.
type TrafficField struct {
	noise     opensimplex.Noise
	amplitude float64
	frequency float64
}

// NewTrafficField builds a deterministic field for seed. amplitude is the
// largest departure from free-flowing traffic (congestion 1.0).
func NewTrafficField(seed int64, amplitude float64) *TrafficField {
	return &TrafficField{
		noise:     opensimplex.New(seed),
		amplitude: clamp(amplitude, 0, 1),
		frequency: 0.35,
	}
}

// Congestion returns the congestion factor for a point at a given tick.
func (t *TrafficField) Congestion(lat, lon float64, tick uint64) float64 {
	n := t.noise.Eval3(lat*t.frequency, lon*t.frequency, float64(tick)/24)
	return clamp(1+t.amplitude*n, minCongestion, maxCongestion)
}

// Apply updates every route's congestion for tick and describes the
// changes larger than 0.1.
func (t *TrafficField) Apply(w *World, tick uint64) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var changes []string
	for _, k := range w.routeOrder {
		r := w.routes[k]
		src, dst := w.cities[r.Source], w.cities[r.Target]
		c := t.Congestion((src.Lat+dst.Lat)/2, (src.Lon+dst.Lon)/2, tick)
		if math.Abs(c-r.Congestion) > 0.1 {
			changes = append(changes, fmt.Sprintf("Traffic on %s now %.2fx", r.Name(), c))
		}
		r.Congestion = c
	}
	return changes
}
