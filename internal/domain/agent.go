package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidAgent is wrapped by warehouse and carrier validation failures.
var ErrInvalidAgent = errors.New("invalid agent")

// Persona is a fixed carrier profile that scales bid price and ETA.
type Persona string

const (
	PersonaStandard Persona = "STANDARD"
	PersonaPremium  Persona = "PREMIUM"
	PersonaGreen    Persona = "GREEN"
	PersonaDiscount Persona = "DISCOUNT"
)

// Profile is the multiplier table behind a persona.
type Profile struct {
	PriceMultiplier float64
	ETAMultiplier   float64
	Sustainability  float64
	Pitch           string
}

var profiles = map[Persona]Profile{
	PersonaStandard: {PriceMultiplier: 1.0, ETAMultiplier: 1.0, Sustainability: 0.5, Pitch: "reliable standard service"},
	PersonaPremium:  {PriceMultiplier: 1.15, ETAMultiplier: 0.85, Sustainability: 0.6, Pitch: "premium express service with guaranteed speed"},
	PersonaGreen:    {PriceMultiplier: 1.05, ETAMultiplier: 1.10, Sustainability: 0.95, Pitch: "low-emission fleet, slightly slower"},
	PersonaDiscount: {PriceMultiplier: 0.85, ETAMultiplier: 1.25, Sustainability: 0.3, Pitch: "lowest price, flexible timing"},
}

// Profile returns the multipliers for p. Unknown personas get the standard
// profile.
func (p Persona) Profile() Profile {
	if pr, ok := profiles[p]; ok {
		return pr
	}
	return profiles[PersonaStandard]
}

// Warehouse is the buying side of a negotiation.
type Warehouse struct {
	ID               string  `json:"id" yaml:"id"`
	Location         string  `json:"location" yaml:"location"`
	Budget           float64 `json:"budget" yaml:"budget"`
	UrgencyThreshold float64 `json:"urgency_threshold" yaml:"urgency_threshold"`
}

// Validate checks the warehouse configuration.
func (w Warehouse) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: warehouse id is required", ErrInvalidAgent)
	}
	return nil
}

// Carrier is the selling side of a negotiation or an auction bidder.
type Carrier struct {
	ID                  string  `json:"id" yaml:"id"`
	CompanyName         string  `json:"company_name" yaml:"company_name"`
	Location            string  `json:"location" yaml:"location"`
	FleetSize           int     `json:"fleet_size" yaml:"fleet_size"`
	ProfitTargetPerMile float64 `json:"profit_target_per_mile" yaml:"profit_target_per_mile"`
	FuelCostPerMile     float64 `json:"fuel_cost_per_mile" yaml:"fuel_cost_per_mile"`
	Persona             Persona `json:"persona" yaml:"persona"`
}

// Validate checks the carrier configuration.
func (c Carrier) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: carrier id is required", ErrInvalidAgent)
	case c.ProfitTargetPerMile <= 0:
		return fmt.Errorf("%w: carrier %s profit target must be positive", ErrInvalidAgent, c.ID)
	case c.FuelCostPerMile < 0:
		return fmt.Errorf("%w: carrier %s fuel cost must not be negative", ErrInvalidAgent, c.ID)
	}
	return nil
}

// DefaultFleet returns the three-carrier fleet used when no scenario file
// supplies one.
func DefaultFleet() []Carrier {
	return []Carrier{
		{ID: "CR-SWIFT-001", CompanyName: "SwiftLogistics", Location: "Houston", FleetSize: 8,
			ProfitTargetPerMile: 2.5, FuelCostPerMile: 0.5, Persona: PersonaPremium},
		{ID: "CR-ECO-001", CompanyName: "EcoFreight", Location: "Dallas", FleetSize: 6,
			ProfitTargetPerMile: 2.5, FuelCostPerMile: 0.5, Persona: PersonaGreen},
		{ID: "CR-BUDGET-001", CompanyName: "BudgetTrucking", Location: "San Antonio", FleetSize: 10,
			ProfitTargetPerMile: 2.5, FuelCostPerMile: 0.5, Persona: PersonaDiscount},
	}
}

// Costs is a carrier's price floor and target for one lane.
type Costs struct {
	FuelCost     float64
	MinimumPrice float64
	TargetPrice  float64
}

// Costs prices a lane of distance miles at the given fuel multiplier.
// The minimum is fuel cost plus 20%.
func (c Carrier) Costs(distance, fuelMultiplier float64) Costs {
	fuel := distance * c.FuelCostPerMile * fuelMultiplier
	return Costs{
		FuelCost:     fuel,
		MinimumPrice: 1.2 * fuel,
		TargetPrice:  distance * c.ProfitTargetPerMile * fuelMultiplier,
	}
}
