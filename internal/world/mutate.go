package world

// Condition mutators return false when the route or city does not exist.

const (
	minFuel       = 0.5
	maxFuel       = 3.0
	minCongestion = 0.5
	maxCongestion = 2.0
)

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func (w *World) withRoute(a, b string, fn func(r *Route)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.routes[keyOf(a, b)]
	if !ok {
		return false
	}
	fn(r)
	return true
}

// UpdateWeather sets the weather on a route.
func (w *World) UpdateWeather(a, b string, status WeatherStatus) bool {
	if !status.Valid() {
		return false
	}
	return w.withRoute(a, b, func(r *Route) { r.Weather = status })
}

// UpdateFuelMultiplier sets the fuel multiplier, clamped to [0.5, 3.0].
func (w *World) UpdateFuelMultiplier(a, b string, m float64) bool {
	return w.withRoute(a, b, func(r *Route) { r.FuelMultiplier = clamp(m, minFuel, maxFuel) })
}

// UpdateCongestion sets the congestion factor, clamped to [0.5, 2.0].
func (w *World) UpdateCongestion(a, b string, f float64) bool {
	return w.withRoute(a, b, func(r *Route) { r.Congestion = clamp(f, minCongestion, maxCongestion) })
}

// CloseRoute marks a route impassable.
func (w *World) CloseRoute(a, b string) bool {
	return w.withRoute(a, b, func(r *Route) { r.IsOpen = false })
}

// OpenRoute reopens a route.
func (w *World) OpenRoute(a, b string) bool {
	return w.withRoute(a, b, func(r *Route) { r.IsOpen = true })
}

// UpdateInventory sets a city's inventory, clamped to [0, capacity].
func (w *World) UpdateInventory(name string, inventory int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cities[name]
	if !ok {
		return false
	}
	c.CurrentInventory = max(0, min(c.WarehouseCapacity, inventory))
	return true
}
