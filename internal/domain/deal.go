package domain

import "time"

// Outcome is how a deal ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeCancelled Outcome = "CANCELLED"
)

// Deal is the append-only record written when a negotiation or auction
// closes.
type Deal struct {
	ID                string    `json:"deal_id"`
	NegotiationID     string    `json:"negotiation_id"`
	WarehouseID       string    `json:"warehouse_id"`
	CarrierID         string    `json:"carrier_id"`
	OrderID           string    `json:"order_id"`
	AgreedPrice       float64   `json:"agreed_price"`
	NegotiationRounds int       `json:"negotiation_rounds"`
	Outcome           Outcome   `json:"outcome"`
	OnTimeDelivery    *bool     `json:"on_time_delivery,omitempty"`
	ActualETA         *float64  `json:"actual_eta,omitempty"`
	PromisedETA       float64   `json:"promised_eta"`
	Route             string    `json:"route,omitempty"`
	Distance          float64   `json:"distance,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	CompletedAt       time.Time `json:"completed_at"`
}

// PricePerMile returns the agreed price over the lane distance, or 0 when
// the distance is unknown.
func (d Deal) PricePerMile() float64 {
	if d.Distance <= 0 {
		return 0
	}
	return d.AgreedPrice / d.Distance
}
