package domain

import "time"

// AgentType distinguishes the two sides of a freight deal.
type AgentType string

const (
	AgentWarehouse AgentType = "WAREHOUSE"
	AgentCarrier   AgentType = "CARRIER"
)

// Status is the state attached to an offer or a response.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAccepted     Status = "ACCEPTED"
	StatusRejected     Status = "REJECTED"
	StatusCounterOffer Status = "COUNTER_OFFER"
	StatusExpired      Status = "EXPIRED"
)

// Offer is one priced proposal made during a negotiation turn or an
// auction bid.
type Offer struct {
	ID             string    `json:"offer_id"`
	Round          int       `json:"round_number"`
	SenderID       string    `json:"sender_id"`
	SenderType     AgentType `json:"sender_type"`
	RecipientID    string    `json:"recipient_id"`
	OrderID        string    `json:"order_id"`
	Price          float64   `json:"offer_price"`
	Reasoning      string    `json:"reasoning"`
	ETA            float64   `json:"eta_estimate"`
	Status         Status    `json:"status"`
	Confidence     float64   `json:"confidence"`
	Sustainability float64   `json:"sustainability,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Response answers an Offer. CounterPrice is set iff Status is
// StatusCounterOffer.
type Response struct {
	ID            string    `json:"response_id"`
	OfferID       string    `json:"offer_id"`
	ResponderID   string    `json:"responder_id"`
	ResponderType AgentType `json:"responder_type"`
	Status        Status    `json:"status"`
	CounterPrice  *float64  `json:"counter_price,omitempty"`
	Reasoning     string    `json:"reasoning"`
	CounterETA    float64   `json:"counter_eta"`
	CreatedAt     time.Time `json:"created_at"`
}
