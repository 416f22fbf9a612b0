package world

import (
	"fmt"
	"math"
)

const (
	// BaseRatePerMile is the shipping rate that anchors fair prices.
	BaseRatePerMile = 2.50

	fairMinFactor = 0.8
	fairMaxFactor = 1.5
)

// PriceRange is the fair band for a shipment.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (p PriceRange) Span() float64 { return p.Max - p.Min }

// WeightFactor scales cost with cargo weight: +50% per tonne.
func WeightFactor(weightKg float64) float64 {
	return 1 + (weightKg/1000)*0.5
}

// ShippingCost is distance × fuel × rate × weight factor.
func ShippingCost(distance, fuelMultiplier, ratePerMile, weightKg float64) float64 {
	return distance * fuelMultiplier * ratePerMile * WeightFactor(weightKg)
}

// FairPriceRange returns [0.8, 1.5] × base shipping cost for a shipment
// from a to b. The direct route's distance and fuel multiplier are used
// when one exists; otherwise the shortest path distance at fuel 1.0.
func (w *World) FairPriceRange(a, b string, weightKg float64) (PriceRange, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	distance, fuel, err := w.costBasisLocked(a, b)
	if err != nil {
		return PriceRange{}, err
	}
	base := ShippingCost(distance, fuel, BaseRatePerMile, weightKg)
	return PriceRange{Min: fairMinFactor * base, Max: fairMaxFactor * base}, nil
}

func (w *World) costBasisLocked(a, b string) (distance, fuel float64, err error) {
	for _, name := range []string{a, b} {
		if _, ok := w.cities[name]; !ok {
			return 0, 0, fmt.Errorf("%w: %s", ErrUnknownCity, name)
		}
	}
	if r, ok := w.routes[keyOf(a, b)]; ok {
		return r.BaseDistance, r.FuelMultiplier, nil
	}
	p, err := w.shortestPathLocked(a, b)
	if err != nil {
		return 0, 0, err
	}
	return p.Distance, 1.0, nil
}

// Facts are the route figures a cost model prices from.
type Facts struct {
	Distance       float64       `json:"distance"`
	FuelMultiplier float64       `json:"fuel_multiplier"`
	ETA            float64       `json:"eta_hours"`
	Weather        WeatherStatus `json:"weather"`
	Direct         bool          `json:"direct"`
	Path           []string      `json:"path"`
}

// RouteFacts returns distance and fuel on the same basis as FairPriceRange,
// plus a finite ETA: the direct route when it is open, otherwise the
// shortest open path. ErrNoRoute means the destination is unreachable.
func (w *World) RouteFacts(a, b string, avgSpeed float64) (Facts, error) {
	if avgSpeed <= 0 {
		avgSpeed = DefaultAvgSpeed
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	distance, fuel, err := w.costBasisLocked(a, b)
	if err != nil {
		return Facts{}, err
	}
	f := Facts{Distance: distance, FuelMultiplier: fuel}

	if r, ok := w.routes[keyOf(a, b)]; ok && r.IsOpen {
		f.Direct = true
		f.Path = []string{a, b}
		f.Weather = r.Weather
		f.ETA = r.EffectiveDistance() / avgSpeed
		return f, nil
	}

	p, err := w.shortestPathLocked(a, b)
	if err != nil {
		return Facts{}, err
	}
	eff := w.pathEffectiveDistance(p.Cities)
	if math.IsInf(eff, 1) {
		return Facts{}, fmt.Errorf("%w: %s to %s", ErrNoRoute, a, b)
	}
	f.Path = p.Cities
	f.Weather = w.pathWeather(p.Cities)
	f.ETA = eff / avgSpeed
	return f, nil
}
