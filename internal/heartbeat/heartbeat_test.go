package heartbeat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

func TestTickGeneratesCriticalOrder(t *testing.T) {
	w := world.NewTexas()
	cfg := DefaultConfig()
	cfg.DepletionRate = 0.01
	rec := telemetry.NewRecorder(16)
	h := New(w, cfg, WithSink(rec))
	require.NoError(t, h.SetInventory("Corpus Christi", 160))

	var seen []domain.Order
	h.SetOnOrder(func(o domain.Order) { seen = append(seen, o) })

	orders := h.Tick(context.Background())
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "Houston", o.Origin)
	assert.Equal(t, "Corpus Christi", o.Destination)
	assert.Equal(t, domain.PriorityCritical, o.Priority)
	assert.InDelta(t, 630.0, o.MaxBudget, 1e-9)
	assert.InDelta(t, 6.0, o.DeadlineHours, 1e-9)
	assert.InDelta(t, 1000.0, o.WeightKg, 1e-9)
	assert.InDelta(t, 5.0, o.VolumeM3, 1e-9)
	assert.Regexp(t, `^ORD-AUTO-[0-9A-F]{6}$`, o.ID)
	assert.Equal(t, orders, seen)
	assert.Len(t, rec.Filter(telemetry.EventOrderGenerated), 1)

	cc, ok := w.City("Corpus Christi")
	require.True(t, ok)
	assert.Equal(t, 144, cc.CurrentInventory)
	houston, _ := w.City("Houston")
	assert.Equal(t, 1925, houston.CurrentInventory)

	states := h.States()
	require.Len(t, states, 5)
	assert.Equal(t, "Corpus Christi", states[0].City)
	assert.Equal(t, 1, states[0].OrdersGenerated)
	assert.True(t, states[0].Ordered)
}

func TestGenerationDoesNotReplenish(t *testing.T) {
	w := world.NewTexas()
	cfg := DefaultConfig()
	cfg.DepletionRate = 0
	h := New(w, cfg)
	require.NoError(t, h.SetInventory("Corpus Christi", 100))

	orders := h.Tick(context.Background())
	require.NotEmpty(t, orders)
	cc, _ := w.City("Corpus Christi")
	assert.Equal(t, 100, cc.CurrentInventory)

	inv, err := h.Replenish("Corpus Christi", 20)
	require.NoError(t, err)
	assert.Equal(t, 120, inv)
	cc, _ = w.City("Corpus Christi")
	assert.Equal(t, 120, cc.CurrentInventory)
}

func TestMaxOrdersPerTick(t *testing.T) {
	w := world.NewTexas()
	cfg := DefaultConfig()
	cfg.DepletionRate = 0
	cfg.MaxOrdersPerTick = 2
	h := New(w, cfg)
	for _, c := range w.Cities() {
		require.NoError(t, h.SetInventory(c.Name, c.WarehouseCapacity/20))
	}

	orders := h.Tick(context.Background())
	require.Len(t, orders, 2)
	assert.Equal(t, "Corpus Christi", orders[0].Destination)
	assert.Equal(t, "Houston", orders[1].Destination)
	for _, o := range orders {
		assert.Equal(t, domain.PriorityCritical, o.Priority)
		assert.NotEqual(t, o.Origin, o.Destination)
	}

	cfg.AutoGenerate = false
	quiet := New(world.NewTexas(), cfg)
	require.NoError(t, quiet.SetInventory("Houston", 10))
	assert.Empty(t, quiet.Tick(context.Background()))
}

func TestDepletionFloorsAtZero(t *testing.T) {
	w := world.NewTexas()
	cfg := DefaultConfig()
	cfg.AutoGenerate = false
	cfg.DepletionRate = 1
	h := New(w, cfg)

	h.Tick(context.Background())
	for _, st := range h.States() {
		assert.Equal(t, 0, st.Inventory, st.City)
		c, _ := w.City(st.City)
		assert.Equal(t, 0, c.CurrentInventory)
	}

	inv, err := h.Replenish("Austin", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 3000, inv)

	_, err = h.Replenish("Nowhere", 5)
	assert.ErrorIs(t, err, world.ErrUnknownCity)
}

func TestTimeUrgencyThrottlesRepeatOrders(t *testing.T) {
	w := world.New()
	require.NoError(t, w.AddCity(world.City{Name: "A", WarehouseCapacity: 1000, CurrentInventory: 100, DemandRate: 0.05}))
	require.NoError(t, w.AddCity(world.City{Name: "B", WarehouseCapacity: 1000, CurrentInventory: 900, DemandRate: 0.05}))
	require.NoError(t, w.AddRoute("A", "B", 100))

	cfg := DefaultConfig()
	cfg.DepletionRate = 0
	cfg.SimHoursPerTick = 6
	h := New(w, cfg)

	var ticks []uint64
	for range 5 {
		if orders := h.Tick(context.Background()); len(orders) > 0 {
			require.Len(t, orders, 1)
			assert.Equal(t, "A", orders[0].Destination)
			assert.Equal(t, "B", orders[0].Origin)
			assert.Equal(t, domain.PriorityHigh, orders[0].Priority)
			assert.InDelta(t, 225.0, orders[0].MaxBudget, 1e-9)
			ticks = append(ticks, h.Stats().Tick)
		}
	}
	assert.Equal(t, []uint64{1, 4}, ticks)

	stats := h.Stats()
	assert.Equal(t, uint64(5), stats.Tick)
	assert.InDelta(t, 30.0, stats.SimHours, 1e-9)
	assert.Equal(t, 2, stats.OrdersGenerated)
}

func TestPriorityTiers(t *testing.T) {
	tests := []struct {
		pct  float64
		want domain.Priority
	}{
		{0.0, domain.PriorityCritical},
		{0.099, domain.PriorityCritical},
		{0.1, domain.PriorityHigh},
		{0.19, domain.PriorityHigh},
		{0.2, domain.PriorityMedium},
		{0.29, domain.PriorityMedium},
		{0.3, domain.PriorityLow},
		{0.8, domain.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Priority(tt.pct), "pct %v", tt.pct)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.SimHoursPerTick = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DepletionRate = 1.5
	assert.Error(t, cfg.Validate())
}
