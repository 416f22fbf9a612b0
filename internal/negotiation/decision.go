package negotiation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// Decision is what a party does on its turn. For an opening offer Status
// is PENDING.
type Decision struct {
	Status     domain.Status `json:"status"`
	Price      float64       `json:"offer_price"`
	ETA        float64       `json:"eta_estimate"`
	Reasoning  string        `json:"reasoning"`
	Confidence float64       `json:"confidence"`
}

// Turn is everything a decision source sees.
type Turn struct {
	Role      domain.AgentType
	Order     domain.Order
	Facts     world.Facts
	Fair      world.PriceRange
	Round     int
	MaxRounds int

	// Incoming is the offer being answered; nil on the opening turn.
	Incoming *domain.Offer
	History  []domain.Offer

	Warehouse domain.Warehouse
	Carrier   domain.Carrier
	Partner   reputation.Advice
}

// RoundsLeft is MaxRounds minus the current round.
func (t Turn) RoundsLeft() int {
	return t.MaxRounds - t.Round
}

// CarrierCosts prices the lane for the carrier in this turn.
func (t Turn) CarrierCosts() domain.Costs {
	return t.Carrier.Costs(t.Facts.Distance, t.Facts.FuelMultiplier)
}

// DecisionSource proposes a decision for a turn.
type DecisionSource interface {
	Propose(ctx context.Context, t Turn) (Decision, error)
}

// Rules is the deterministic rule-based decision source. It never fails.
type Rules struct{}

func (Rules) Propose(_ context.Context, t Turn) (Decision, error) {
	if t.Role == domain.AgentCarrier {
		return carrierRule(t), nil
	}
	return warehouseRule(t), nil
}

func warehouseRule(t Turn) Decision {
	budget := t.Order.MaxBudget
	if t.Incoming == nil {
		price := min(t.Fair.Min+0.3*t.Fair.Span(), 0.7*budget)
		return Decision{
			Status:     domain.StatusPending,
			Price:      price,
			ETA:        t.Facts.ETA,
			Reasoning:  fmt.Sprintf("Opening at 30%% into the fair range ($%.2f-$%.2f), capped at 70%% of the $%.2f budget.", t.Fair.Min, t.Fair.Max, budget),
			Confidence: 0.75,
		}
	}

	p := t.Incoming.Price
	urgency := 1 - float64(t.RoundsLeft())/float64(t.MaxRounds)
	acceptable := t.Fair.Min + t.Fair.Span()*(0.5+0.3*urgency)
	eta := t.Incoming.ETA

	switch {
	case p <= acceptable && p <= budget:
		return Decision{
			Status:     domain.StatusAccepted,
			Price:      p,
			ETA:        eta,
			Reasoning:  fmt.Sprintf("$%.2f is within the acceptable $%.2f and the budget.", p, acceptable),
			Confidence: 0.9,
		}
	case p > budget:
		return Decision{
			Status:     domain.StatusCounterOffer,
			Price:      min(0.95*budget, t.Fair.Max),
			ETA:        eta,
			Reasoning:  fmt.Sprintf("$%.2f exceeds the $%.2f budget; countering near the limit.", p, budget),
			Confidence: 0.6,
		}
	default:
		return Decision{
			Status:     domain.StatusCounterOffer,
			Price:      min(p*(0.85+0.1*urgency), budget),
			ETA:        eta,
			Reasoning:  fmt.Sprintf("Above the acceptable $%.2f; countering with urgency %.2f.", acceptable, urgency),
			Confidence: 0.7,
		}
	}
}

func carrierRule(t Turn) Decision {
	p := t.Incoming.Price
	costs := t.CarrierCosts()
	left := float64(t.RoundsLeft()) / float64(t.MaxRounds)
	adjTarget := costs.TargetPrice * (1 - 0.3*left)
	adjMin := costs.MinimumPrice * (0.9 + 0.1*left)
	eta := t.Facts.ETA

	switch {
	case p >= adjTarget:
		return Decision{
			Status:     domain.StatusAccepted,
			Price:      p,
			ETA:        eta,
			Reasoning:  fmt.Sprintf("$%.2f meets the adjusted target $%.2f.", p, adjTarget),
			Confidence: 0.95,
		}
	case p < adjMin && t.RoundsLeft() <= 1:
		if p >= 0.9*costs.MinimumPrice {
			return Decision{
				Status:     domain.StatusAccepted,
				Price:      p,
				ETA:        eta,
				Reasoning:  fmt.Sprintf("Final round: $%.2f is low but covers 90%% of the $%.2f floor.", p, costs.MinimumPrice),
				Confidence: 0.6,
			}
		}
		return Decision{
			Status:     domain.StatusRejected,
			Price:      costs.MinimumPrice,
			ETA:        eta,
			Reasoning:  fmt.Sprintf("Final round: $%.2f does not cover the $%.2f floor.", p, costs.MinimumPrice),
			Confidence: 0.8,
		}
	case p < adjMin:
		return Decision{
			Status:     domain.StatusCounterOffer,
			Price:      0.95 * adjTarget,
			ETA:        eta,
			Reasoning:  fmt.Sprintf("$%.2f is below the $%.2f floor; countering near target.", p, adjMin),
			Confidence: 0.7,
		}
	default:
		return Decision{
			Status:     domain.StatusCounterOffer,
			Price:      (p + adjTarget) / 2,
			ETA:        eta,
			Reasoning:  fmt.Sprintf("Meeting halfway between $%.2f and the $%.2f target.", p, adjTarget),
			Confidence: 0.75,
		}
	}
}

var errInfeasible = errors.New("infeasible decision")

// checkFeasible rejects decisions that break budget or cost bounds or use
// a status the turn does not allow.
func checkFeasible(t Turn, d Decision) error {
	if math.IsNaN(d.Price) || math.IsInf(d.Price, 0) || d.Price < 0 {
		return fmt.Errorf("%w: price %v", errInfeasible, d.Price)
	}

	if t.Role == domain.AgentWarehouse {
		budget := t.Order.MaxBudget
		if t.Incoming == nil {
			if d.Price <= 0 || d.Price > budget {
				return fmt.Errorf("%w: opening price %.2f outside (0, %.2f]", errInfeasible, d.Price, budget)
			}
			return nil
		}
		switch d.Status {
		case domain.StatusAccepted:
			if t.Incoming.Price > budget {
				return fmt.Errorf("%w: accepting %.2f over budget %.2f", errInfeasible, t.Incoming.Price, budget)
			}
		case domain.StatusCounterOffer:
			if d.Price <= 0 || d.Price > budget {
				return fmt.Errorf("%w: counter %.2f outside (0, %.2f]", errInfeasible, d.Price, budget)
			}
		case domain.StatusRejected:
		default:
			return fmt.Errorf("%w: status %q", errInfeasible, d.Status)
		}
		return nil
	}

	floor := 0.9 * t.CarrierCosts().MinimumPrice
	switch d.Status {
	case domain.StatusAccepted:
		if t.Incoming.Price < floor {
			return fmt.Errorf("%w: accepting %.2f under cost floor %.2f", errInfeasible, t.Incoming.Price, floor)
		}
	case domain.StatusCounterOffer:
		if d.Price < floor {
			return fmt.Errorf("%w: counter %.2f under cost floor %.2f", errInfeasible, d.Price, floor)
		}
	case domain.StatusRejected:
	default:
		return fmt.Errorf("%w: status %q", errInfeasible, d.Status)
	}
	return nil
}
