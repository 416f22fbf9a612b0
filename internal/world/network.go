// Package world holds the freight network: cities with warehouse
// inventories, the routes between them and every cost, time and price
// figure derived from their current conditions.
package world

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrUnknownCity is returned when a name does not match any city.
	ErrUnknownCity = errors.New("unknown city")
	// ErrNoRoute is returned when two cities are not connected.
	ErrNoRoute = errors.New("no route")
)

// DefaultAvgSpeed is the truck speed in mph used when none is given.
const DefaultAvgSpeed = 55.0

// WeatherStatus is the condition on a route.
type WeatherStatus string

const (
	WeatherClear  WeatherStatus = "CLEAR"
	WeatherRain   WeatherStatus = "RAIN"
	WeatherFog    WeatherStatus = "FOG"
	WeatherStorm  WeatherStatus = "STORM"
	WeatherSevere WeatherStatus = "SEVERE"
)

var weatherMultipliers = map[WeatherStatus]float64{
	WeatherClear:  1.0,
	WeatherRain:   1.2,
	WeatherFog:    1.3,
	WeatherStorm:  1.5,
	WeatherSevere: 2.0,
}

// Multiplier returns the distance penalty for the weather. Unknown values
// are treated as clear.
func (w WeatherStatus) Multiplier() float64 {
	if m, ok := weatherMultipliers[w]; ok {
		return m
	}
	return 1.0
}

// Valid reports whether w is a known weather status.
func (w WeatherStatus) Valid() bool {
	_, ok := weatherMultipliers[w]
	return ok
}

// City is a node of the network with a warehouse.
type City struct {
	Name              string  `json:"name"`
	Lat               float64 `json:"latitude"`
	Lon               float64 `json:"longitude"`
	WarehouseCapacity int     `json:"warehouse_capacity"`
	CurrentInventory  int     `json:"current_inventory"`
	DemandRate        float64 `json:"demand_rate"`
}

// InventoryPct returns inventory as a fraction of capacity.
func (c City) InventoryPct() float64 {
	if c.WarehouseCapacity <= 0 {
		return 0
	}
	return float64(c.CurrentInventory) / float64(c.WarehouseCapacity)
}

// Route is an undirected road between two cities.
type Route struct {
	Source         string        `json:"source"`
	Target         string        `json:"target"`
	BaseDistance   float64       `json:"base_distance"`
	FuelMultiplier float64       `json:"fuel_multiplier"`
	Weather        WeatherStatus `json:"weather_status"`
	Congestion     float64       `json:"congestion_factor"`
	IsOpen         bool          `json:"is_open"`
}

// EffectiveDistance is the distance adjusted for fuel, weather and
// congestion. A closed route is infinitely far.
func (r Route) EffectiveDistance() float64 {
	if !r.IsOpen {
		return math.Inf(1)
	}
	return r.BaseDistance * r.FuelMultiplier * r.Weather.Multiplier() * r.Congestion
}

// Name returns "Source-Target".
func (r Route) Name() string {
	return r.Source + "-" + r.Target
}

func (r Route) other(city string) string {
	if r.Source == city {
		return r.Target
	}
	return r.Source
}

type routeKey struct{ a, b string }

func keyOf(a, b string) routeKey {
	if b < a {
		a, b = b, a
	}
	return routeKey{a, b}
}

// World is the record store for cities and routes. All methods are safe for
// concurrent use; every inventory counter has a single writer at a time.
type World struct {
	mu         sync.RWMutex
	cities     map[string]*City
	cityOrder  []string
	routes     map[routeKey]*Route
	routeOrder []routeKey
	adjacency  map[string][]routeKey
	tick       uint64
}

// New returns an empty world.
func New() *World {
	return &World{
		cities:    make(map[string]*City),
		routes:    make(map[routeKey]*Route),
		adjacency: make(map[string][]routeKey),
	}
}

// AddCity registers a city. Names must be unique.
func (w *World) AddCity(c City) error {
	switch {
	case c.Name == "":
		return fmt.Errorf("city name is required")
	case c.WarehouseCapacity <= 0:
		return fmt.Errorf("city %s: warehouse capacity must be positive", c.Name)
	case c.CurrentInventory < 0 || c.CurrentInventory > c.WarehouseCapacity:
		return fmt.Errorf("city %s: inventory %d outside [0, %d]", c.Name, c.CurrentInventory, c.WarehouseCapacity)
	case c.DemandRate <= 0:
		return fmt.Errorf("city %s: demand rate must be positive", c.Name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.cities[c.Name]; ok {
		return fmt.Errorf("city %s already exists", c.Name)
	}
	city := c
	w.cities[c.Name] = &city
	w.cityOrder = append(w.cityOrder, c.Name)
	return nil
}

// AddRoute connects two existing cities with an open, clear road at normal
// fuel price and congestion.
func (w *World) AddRoute(source, target string, baseDistance float64) error {
	if baseDistance <= 0 {
		return fmt.Errorf("route %s-%s: base distance must be positive", source, target)
	}
	if source == target {
		return fmt.Errorf("route %s-%s: endpoints must differ", source, target)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, name := range []string{source, target} {
		if _, ok := w.cities[name]; !ok {
			return fmt.Errorf("route %s-%s: %w: %s", source, target, ErrUnknownCity, name)
		}
	}
	k := keyOf(source, target)
	if _, ok := w.routes[k]; ok {
		return fmt.Errorf("route %s-%s already exists", source, target)
	}
	w.routes[k] = &Route{
		Source:         source,
		Target:         target,
		BaseDistance:   baseDistance,
		FuelMultiplier: 1.0,
		Weather:        WeatherClear,
		Congestion:     1.0,
		IsOpen:         true,
	}
	w.routeOrder = append(w.routeOrder, k)
	w.adjacency[source] = append(w.adjacency[source], k)
	w.adjacency[target] = append(w.adjacency[target], k)
	return nil
}

// City returns a copy of the named city.
func (w *World) City(name string) (City, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.cities[name]
	if !ok {
		return City{}, false
	}
	return *c, true
}

// HasCity reports whether the city exists.
func (w *World) HasCity(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.cities[name]
	return ok
}

// Cities returns copies of all cities in insertion order.
func (w *World) Cities() []City {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]City, 0, len(w.cityOrder))
	for _, name := range w.cityOrder {
		out = append(out, *w.cities[name])
	}
	return out
}

// Routes returns copies of all routes in insertion order.
func (w *World) Routes() []Route {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Route, 0, len(w.routeOrder))
	for _, k := range w.routeOrder {
		out = append(out, *w.routes[k])
	}
	return out
}

// Route returns the direct route between a and b in either direction.
func (w *World) Route(a, b string) (Route, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.routes[keyOf(a, b)]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// EffectiveDistance returns the direct route's effective distance, or +Inf
// when there is no direct route or it is closed.
func (w *World) EffectiveDistance(a, b string) float64 {
	r, ok := w.Route(a, b)
	if !ok {
		return math.Inf(1)
	}
	return r.EffectiveDistance()
}

// EstimateTravelTime returns hours on the direct route at avgSpeed mph
// (DefaultAvgSpeed when avgSpeed is not positive).
func (w *World) EstimateTravelTime(a, b string, avgSpeed float64) float64 {
	if avgSpeed <= 0 {
		avgSpeed = DefaultAvgSpeed
	}
	d := w.EffectiveDistance(a, b)
	if math.IsInf(d, 1) {
		return d
	}
	return d / avgSpeed
}

// Tick advances the world clock. It does not touch inventories.
func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++
	return w.tick
}

// TickCount returns the number of ticks so far.
func (w *World) TickCount() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// Snapshot is a point-in-time copy of the network.
type Snapshot struct {
	Tick   uint64  `json:"tick"`
	Cities []City  `json:"cities"`
	Routes []Route `json:"routes"`
}

// Snapshot copies the whole network under a single read lock.
func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Snapshot{
		Tick:   w.tick,
		Cities: make([]City, 0, len(w.cityOrder)),
		Routes: make([]Route, 0, len(w.routeOrder)),
	}
	for _, name := range w.cityOrder {
		s.Cities = append(s.Cities, *w.cities[name])
	}
	for _, k := range w.routeOrder {
		s.Routes = append(s.Routes, *w.routes[k])
	}
	return s
}

// Restore copies inventories, route conditions and the tick from a saved
// snapshot. Cities and routes the world does not have are ignored; it
// returns how many records were applied.
func (w *World) Restore(s Snapshot) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range s.Cities {
		if cur, ok := w.cities[c.Name]; ok {
			cur.CurrentInventory = max(0, min(cur.WarehouseCapacity, c.CurrentInventory))
			n++
		}
	}
	for _, r := range s.Routes {
		cur, ok := w.routes[keyOf(r.Source, r.Target)]
		if !ok {
			continue
		}
		if r.Weather.Valid() {
			cur.Weather = r.Weather
		}
		cur.FuelMultiplier = clamp(r.FuelMultiplier, minFuel, maxFuel)
		cur.Congestion = clamp(r.Congestion, minCongestion, maxCongestion)
		cur.IsOpen = r.IsOpen
		n++
	}
	w.tick = s.Tick
	return n
}
