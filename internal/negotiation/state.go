// Package negotiation runs the bilateral, turn-based price negotiation
// between one warehouse and one carrier over a single order.
package negotiation

import (
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// DefaultMaxRounds bounds a negotiation when no limit is configured.
const DefaultMaxRounds = 5

// Phase is the position of a negotiation in its state machine.
type Phase string

const (
	AwaitingWarehouse Phase = "AWAITING_WAREHOUSE"
	AwaitingCarrier   Phase = "AWAITING_CARRIER"
	Accepted          Phase = "ACCEPTED"
	Rejected          Phase = "REJECTED"
	Expired           Phase = "EXPIRED"
)

// Terminal reports whether no further turns can happen.
func (p Phase) Terminal() bool {
	return p == Accepted || p == Rejected || p == Expired
}

// State is one negotiation. A round is a warehouse turn followed by a
// carrier turn; CurrentRound reaches MaxRounds+1 only as the negotiation
// expires.
type State struct {
	ID           string            `json:"negotiation_id"`
	Order        domain.Order      `json:"order"`
	WarehouseID  string            `json:"warehouse_id"`
	CarrierID    string            `json:"carrier_id"`
	Offers       []domain.Offer    `json:"offers"`
	Responses    []domain.Response `json:"responses"`
	CurrentRound int               `json:"current_round"`
	MaxRounds    int               `json:"max_rounds"`
	Phase        Phase             `json:"phase"`
	IsComplete   bool              `json:"is_complete"`
	FinalStatus  domain.Status     `json:"final_status,omitempty"`
	AgreedPrice  *float64          `json:"agreed_price,omitempty"`
	AgreedETA    *float64          `json:"agreed_eta,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`

	// Pricing basis fixed when the negotiation starts.
	Facts     world.Facts      `json:"route_facts"`
	Fair      world.PriceRange `json:"fair_price_range"`
	Warehouse domain.Warehouse `json:"-"`
	Carrier   domain.Carrier   `json:"-"`
}

// LastOffer returns the most recent offer, if any.
func (s *State) LastOffer() (domain.Offer, bool) {
	if len(s.Offers) == 0 {
		return domain.Offer{}, false
	}
	return s.Offers[len(s.Offers)-1], true
}

func (s *State) finish(phase Phase, status domain.Status, now time.Time) {
	s.Phase = phase
	s.FinalStatus = status
	s.IsComplete = true
	s.CompletedAt = now
}

// Rounds is the number of rounds actually played.
func (s *State) Rounds() int {
	return max(1, min(s.CurrentRound, s.MaxRounds))
}

// Deal builds the history record for a finished negotiation. Accepted
// negotiations succeed; rejected and expired ones fail.
func (s *State) Deal(id string, now time.Time) domain.Deal {
	d := domain.Deal{
		ID:                id,
		NegotiationID:     s.ID,
		WarehouseID:       s.WarehouseID,
		CarrierID:         s.CarrierID,
		OrderID:           s.Order.ID,
		NegotiationRounds: s.Rounds(),
		Outcome:           domain.OutcomeFailed,
		Route:             s.Order.Origin + "-" + s.Order.Destination,
		Distance:          s.Facts.Distance,
		Timestamp:         s.StartedAt,
		CompletedAt:       now,
	}
	if s.FinalStatus == domain.StatusAccepted && s.AgreedPrice != nil {
		d.Outcome = domain.OutcomeSuccess
		d.AgreedPrice = *s.AgreedPrice
	}
	if s.AgreedETA != nil {
		d.PromisedETA = *s.AgreedETA
	} else if o, ok := s.LastOffer(); ok {
		d.PromisedETA = o.ETA
	}
	return d
}
