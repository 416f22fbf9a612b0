// Package domain holds the records shared by the market engines: orders,
// offers, responses, deals and the agents that trade them.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOrder is wrapped by every order validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// Priority ranks how urgently a destination needs freight.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is one of the known tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Order is a request to move freight between two cities. Orders are
// immutable once created.
type Order struct {
	ID            string    `json:"order_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	WeightKg      float64   `json:"weight_kg"`
	VolumeM3      float64   `json:"volume_m3"`
	Priority      Priority  `json:"priority"`
	MaxBudget     float64   `json:"max_budget"`
	DeadlineHours float64   `json:"deadline_hours"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the fields that do not need a world to verify. City
// existence is checked by the engines against their world.
func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	case o.Origin == "" || o.Destination == "":
		return fmt.Errorf("%w: origin and destination are required", ErrInvalidOrder)
	case o.Origin == o.Destination:
		return fmt.Errorf("%w: origin and destination are both %q", ErrInvalidOrder, o.Origin)
	case o.WeightKg <= 0:
		return fmt.Errorf("%w: weight_kg must be positive, got %v", ErrInvalidOrder, o.WeightKg)
	case o.VolumeM3 <= 0:
		return fmt.Errorf("%w: volume_m3 must be positive, got %v", ErrInvalidOrder, o.VolumeM3)
	case !o.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidOrder, o.Priority)
	case o.MaxBudget <= 0:
		return fmt.Errorf("%w: max_budget must be positive, got %v", ErrInvalidOrder, o.MaxBudget)
	case o.DeadlineHours <= 0:
		return fmt.Errorf("%w: deadline_hours must be positive, got %v", ErrInvalidOrder, o.DeadlineHours)
	}
	return nil
}
