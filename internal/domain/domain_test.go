package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validOrder() Order {
	return Order{
		ID:            "ORD-1",
		Origin:        "Corpus Christi",
		Destination:   "Houston",
		WeightKg:      500,
		VolumeM3:      2.5,
		Priority:      PriorityMedium,
		MaxBudget:     800,
		DeadlineHours: 24,
		CreatedAt:     time.Now(),
	}
}

func TestOrderValidate(t *testing.T) {
	assert.NoError(t, validOrder().Validate())

	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"missing id", func(o *Order) { o.ID = "" }},
		{"missing origin", func(o *Order) { o.Origin = "" }},
		{"same endpoints", func(o *Order) { o.Destination = o.Origin }},
		{"zero weight", func(o *Order) { o.WeightKg = 0 }},
		{"negative volume", func(o *Order) { o.VolumeM3 = -1 }},
		{"bad priority", func(o *Order) { o.Priority = "URGENT" }},
		{"zero budget", func(o *Order) { o.MaxBudget = 0 }},
		{"zero deadline", func(o *Order) { o.DeadlineHours = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(&o)
			assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
		})
	}
}

func TestPersonaProfiles(t *testing.T) {
	assert.Equal(t, 1.15, PersonaPremium.Profile().PriceMultiplier)
	assert.Equal(t, 0.85, PersonaPremium.Profile().ETAMultiplier)
	assert.Equal(t, PersonaStandard.Profile(), Persona("").Profile())
	assert.Greater(t, PersonaGreen.Profile().Sustainability, PersonaDiscount.Profile().Sustainability)
}

func TestCarrierCosts(t *testing.T) {
	c := Carrier{ID: "CR", ProfitTargetPerMile: 2.5, FuelCostPerMile: 0.5}
	costs := c.Costs(210, 1.0)
	assert.InDelta(t, 105.0, costs.FuelCost, 1e-9)
	assert.InDelta(t, 126.0, costs.MinimumPrice, 1e-9)
	assert.InDelta(t, 525.0, costs.TargetPrice, 1e-9)

	assert.NoError(t, c.Validate())
	assert.ErrorIs(t, Carrier{ID: "x"}.Validate(), ErrInvalidAgent)
	assert.ErrorIs(t, Warehouse{}.Validate(), ErrInvalidAgent)
}

func TestDefaultFleetIsValid(t *testing.T) {
	fleet := DefaultFleet()
	assert.Len(t, fleet, 3)
	for _, c := range fleet {
		assert.NoError(t, c.Validate())
	}
}
