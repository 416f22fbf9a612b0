// Package heartbeat is the market's demand generator. Each tick drains
// city inventories and raises replenishment orders for cities that run
// low. Inventory only comes back when a generated order is fulfilled.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

const (
	kgPerUnit      = 50.0
	maxOrderWeight = 1000.0
	kgPerM3        = 200.0
)

// Config tunes depletion and order generation.
type Config struct {
	DepletionRate      float64 `mapstructure:"depletion_rate"`
	InventoryThreshold float64 `mapstructure:"inventory_threshold"`
	MaxOrdersPerTick   int     `mapstructure:"max_orders_per_tick"`
	AutoGenerate       bool    `mapstructure:"auto_generate"`
	SimHoursPerTick    float64 `mapstructure:"sim_hours_per_tick"`
	DemandTrigger      float64 `mapstructure:"demand_trigger"`
	BaseRatePerMile    float64 `mapstructure:"base_rate_per_mile"`
}

// DefaultConfig returns the standard heartbeat settings.
func DefaultConfig() Config {
	return Config{
		DepletionRate:      0.1,
		InventoryThreshold: 0.3,
		MaxOrdersPerTick:   3,
		AutoGenerate:       true,
		SimHoursPerTick:    1.0,
		DemandTrigger:      0.5,
		BaseRatePerMile:    1.50,
	}
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	switch {
	case c.DepletionRate < 0 || c.DepletionRate > 1:
		return fmt.Errorf("heartbeat: depletion_rate %v outside [0, 1]", c.DepletionRate)
	case c.InventoryThreshold < 0 || c.InventoryThreshold > 1:
		return fmt.Errorf("heartbeat: inventory_threshold %v outside [0, 1]", c.InventoryThreshold)
	case c.MaxOrdersPerTick < 0:
		return fmt.Errorf("heartbeat: max_orders_per_tick must not be negative")
	case c.SimHoursPerTick <= 0:
		return fmt.Errorf("heartbeat: sim_hours_per_tick must be positive")
	case c.BaseRatePerMile <= 0:
		return fmt.Errorf("heartbeat: base_rate_per_mile must be positive")
	}
	return nil
}

// CityDemandState is the heartbeat's view of one city's stock.
type CityDemandState struct {
	City            string  `json:"city"`
	Inventory       int     `json:"inventory"`
	Capacity        int     `json:"capacity"`
	DemandRate      float64 `json:"demand_rate"`
	Threshold       float64 `json:"inventory_threshold"`
	OrdersGenerated int     `json:"orders_generated"`

	// LastOrderHour is the sim hour of the last generated order, valid
	// only when Ordered is true.
	LastOrderHour float64 `json:"last_order_hour,omitempty"`
	Ordered       bool    `json:"ordered"`
}

// InventoryPct is inventory over capacity.
func (s CityDemandState) InventoryPct() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Inventory) / float64(s.Capacity)
}

// NeedsReplenishment reports whether stock is under the threshold.
func (s CityDemandState) NeedsReplenishment() bool {
	return s.InventoryPct() < s.Threshold
}

// Heartbeat owns the demand state of every city in a world. It is the
// only writer of city inventory.
type Heartbeat struct {
	world *world.World
	cfg   Config
	sink  telemetry.Sink
	now   func() time.Time

	mu        sync.Mutex
	states    map[string]*CityDemandState
	order     []string
	tick      uint64
	simHours  float64
	generated int
	onOrder   func(domain.Order)
}

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option { return func(h *Heartbeat) { h.sink = telemetry.OrNop(s) } }

// WithClock overrides time.Now for order timestamps.
func WithClock(now func() time.Time) Option { return func(h *Heartbeat) { h.now = now } }

// New snapshots the world's cities into demand states.
func New(w *world.World, cfg Config, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		world:  w,
		cfg:    cfg,
		sink:   telemetry.Nop{},
		now:    time.Now,
		states: map[string]*CityDemandState{},
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, c := range w.Cities() {
		h.states[c.Name] = &CityDemandState{
			City:       c.Name,
			Inventory:  c.CurrentInventory,
			Capacity:   c.WarehouseCapacity,
			DemandRate: c.DemandRate,
			Threshold:  cfg.InventoryThreshold,
		}
		h.order = append(h.order, c.Name)
		slog.Debug("heartbeat tracking city", "city", c.Name, "inventory", c.CurrentInventory, "capacity", c.WarehouseCapacity)
	}
	return h
}

// SetOnOrder registers a callback run for every generated order, after
// the tick's state changes are complete.
func (h *Heartbeat) SetOnOrder(fn func(domain.Order)) {
	h.mu.Lock()
	h.onOrder = fn
	h.mu.Unlock()
}

// Tick advances the sim clock, depletes every city, then raises at most
// MaxOrdersPerTick orders in city order.
func (h *Heartbeat) Tick(ctx context.Context) []domain.Order {
	h.mu.Lock()
	h.tick++
	h.simHours += h.cfg.SimHoursPerTick

	for _, name := range h.order {
		h.deplete(h.states[name])
	}

	var orders []domain.Order
	if h.cfg.AutoGenerate {
		for _, name := range h.order {
			if len(orders) >= h.cfg.MaxOrdersPerTick || ctx.Err() != nil {
				break
			}
			st := h.states[name]
			if !st.NeedsReplenishment() || h.demandScore(st) <= h.cfg.DemandTrigger {
				continue
			}
			o, err := h.generate(st)
			if err != nil {
				slog.Warn("could not generate order", "city", name, "error", err)
				continue
			}
			orders = append(orders, o)
		}
	}
	cb := h.onOrder
	tick := h.tick
	h.mu.Unlock()

	for _, o := range orders {
		h.sink.Emit(telemetry.Event{
			Type:    telemetry.EventOrderGenerated,
			Tick:    tick,
			Actor:   o.Destination,
			Message: fmt.Sprintf("generated %s: %s to %s (%s, $%.2f, %.0fkg)", o.ID, o.Origin, o.Destination, o.Priority, o.MaxBudget, o.WeightKg),
			Data:    map[string]any{"order_id": o.ID, "priority": o.Priority, "max_budget": o.MaxBudget},
			At:      o.CreatedAt,
		})
		if cb != nil {
			cb(o)
		}
	}
	return orders
}

func (h *Heartbeat) deplete(st *CityDemandState) {
	units := int(float64(st.Capacity) * h.cfg.DepletionRate * st.DemandRate)
	st.Inventory = max(0, st.Inventory-units)
	h.world.UpdateInventory(st.City, st.Inventory)
}

// demandScore blends base demand, stock shortfall and time since the last
// order, capped at 1.
func (h *Heartbeat) demandScore(st *CityDemandState) float64 {
	urgency := 1.0
	if st.Ordered {
		urgency = min((h.simHours-st.LastOrderHour)/24, 1)
	}
	score := 0.4*st.DemandRate + 0.4*(1-st.InventoryPct()) + 0.2*urgency
	return min(score, 1)
}

// Priority maps an inventory fraction to an order priority.
func Priority(pct float64) domain.Priority {
	switch {
	case pct < 0.1:
		return domain.PriorityCritical
	case pct < 0.2:
		return domain.PriorityHigh
	case pct < 0.3:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

var tiers = map[domain.Priority]struct {
	budget   float64
	deadline float64
}{
	domain.PriorityCritical: {2.0, 6},
	domain.PriorityHigh:     {1.5, 12},
	domain.PriorityMedium:   {1.2, 24},
	domain.PriorityLow:      {1.0, 48},
}

func (h *Heartbeat) generate(dest *CityDemandState) (domain.Order, error) {
	var origin *CityDemandState
	for _, name := range h.order {
		st := h.states[name]
		if st == dest {
			continue
		}
		if origin == nil || st.Inventory > origin.Inventory {
			origin = st
		}
	}
	if origin == nil {
		return domain.Order{}, fmt.Errorf("%s: no other city to ship from", dest.City)
	}

	path, err := h.world.ShortestPath(origin.City, dest.City)
	if err != nil {
		return domain.Order{}, err
	}

	prio := Priority(dest.InventoryPct())
	tier := tiers[prio]
	weight := min(float64(dest.Capacity-dest.Inventory)*kgPerUnit, maxOrderWeight)
	o := domain.Order{
		ID:            "ORD-AUTO-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6]),
		Origin:        origin.City,
		Destination:   dest.City,
		WeightKg:      weight,
		VolumeM3:      weight / kgPerM3,
		Priority:      prio,
		MaxBudget:     path.Distance * h.cfg.BaseRatePerMile * tier.budget,
		DeadlineHours: tier.deadline,
		CreatedAt:     h.now(),
	}
	if err := o.Validate(); err != nil {
		return domain.Order{}, err
	}

	dest.Ordered = true
	dest.LastOrderHour = h.simHours
	dest.OrdersGenerated++
	h.generated++
	slog.Info("generated order", "order_id", o.ID, "origin", o.Origin, "destination", o.Destination,
		"priority", o.Priority, "max_budget", o.MaxBudget, "weight_kg", o.WeightKg)
	return o, nil
}

// Replenish adds units to a city, capped at capacity, and returns the new
// inventory. Only the fulfilment path calls it.
func (h *Heartbeat) Replenish(city string, units int) (int, error) {
	h.mu.Lock()
	st, ok := h.states[city]
	if !ok {
		h.mu.Unlock()
		return 0, fmt.Errorf("replenish: %w: %s", world.ErrUnknownCity, city)
	}
	st.Inventory = min(st.Capacity, st.Inventory+max(0, units))
	h.world.UpdateInventory(city, st.Inventory)
	inv, tick := st.Inventory, h.tick
	h.mu.Unlock()

	slog.Info("replenished city", "city", city, "units", units, "inventory", inv)
	h.sink.Emit(telemetry.Event{
		Type:    telemetry.EventReplenished,
		Tick:    tick,
		Actor:   city,
		Message: fmt.Sprintf("replenished %s: +%d units (now %d)", city, units, inv),
		Data:    map[string]any{"units": units, "inventory": inv},
		At:      h.now(),
	})
	return inv, nil
}

// SetInventory overwrites a city's stock, clamped to capacity. It is meant
// for scenario setup and tests.
func (h *Heartbeat) SetInventory(city string, units int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[city]
	if !ok {
		return fmt.Errorf("set inventory: %w: %s", world.ErrUnknownCity, city)
	}
	st.Inventory = max(0, min(st.Capacity, units))
	h.world.UpdateInventory(city, st.Inventory)
	return nil
}

// States returns a copy of every city state in city order.
func (h *Heartbeat) States() []CityDemandState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CityDemandState, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, *h.states[name])
	}
	return out
}

// Stats is a summary of heartbeat activity.
type Stats struct {
	Tick            uint64            `json:"current_tick"`
	SimHours        float64           `json:"sim_hours"`
	OrdersGenerated int               `json:"total_orders_generated"`
	Cities          []CityDemandState `json:"city_states"`
}

// Stats reports the current tick, sim clock and city states.
func (h *Heartbeat) Stats() Stats {
	cities := h.States()
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Tick: h.tick, SimHours: h.simHours, OrdersGenerated: h.generated, Cities: cities}
}
