// Package reputation scores agents from the deals they close and keeps the
// deal history those scores are derived from.
package reputation

import (
	"fmt"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// Score is an agent's aggregate performance. It changes only through
// ApplyDealOutcome.
type Score struct {
	AgentID              string           `json:"agent_id" db:"agent_id"`
	AgentType            domain.AgentType `json:"agent_type" db:"agent_type"`
	TotalDeals           int              `json:"total_deals" db:"total_deals"`
	SuccessfulDeals      int              `json:"successful_deals" db:"successful_deals"`
	FailedDeals          int              `json:"failed_deals" db:"failed_deals"`
	OverallScore         float64          `json:"overall_score" db:"overall_score"`
	ReliabilityScore     float64          `json:"reliability_score" db:"reliability_score"`
	NegotiationFairness  float64          `json:"negotiation_fairness" db:"negotiation_fairness"`
	AvgNegotiationRounds float64          `json:"avg_negotiation_rounds" db:"avg_negotiation_rounds"`
	OnTimePercentage     float64          `json:"on_time_percentage" db:"on_time_percentage"`
	LastUpdated          time.Time        `json:"last_updated" db:"-"`
}

// NewScore returns the starting score for an agent with no history.
func NewScore(agentID string, agentType domain.AgentType, now time.Time) Score {
	return Score{
		AgentID:              agentID,
		AgentType:            agentType,
		OverallScore:         1.0,
		ReliabilityScore:     1.0,
		NegotiationFairness:  1.0,
		AvgNegotiationRounds: 3.0,
		OnTimePercentage:     1.0,
		LastUpdated:          now,
	}
}

// SuccessRate is successful deals over total deals, 0 with no deals.
func (s Score) SuccessRate() float64 {
	if s.TotalDeals == 0 {
		return 0
	}
	return float64(s.SuccessfulDeals) / float64(s.TotalDeals)
}

// Trust is the blend auctions rank bidders by.
func (s Score) Trust() float64 {
	return (s.OverallScore + s.ReliabilityScore) / 2
}

// ApplyDealOutcome folds one closed deal into s. Cancelled deals count
// toward TotalDeals but are neither successful nor failed.
func ApplyDealOutcome(s *Score, deal domain.Deal, now time.Time) {
	prev := float64(s.TotalDeals)
	s.TotalDeals++
	n := float64(s.TotalDeals)

	switch deal.Outcome {
	case domain.OutcomeSuccess:
		s.SuccessfulDeals++
	case domain.OutcomeFailed:
		s.FailedDeals++
	}

	if deal.OnTimeDelivery != nil && s.AgentType == domain.AgentCarrier {
		v := 0.0
		if *deal.OnTimeDelivery {
			v = 1.0
		}
		s.OnTimePercentage = unit((s.OnTimePercentage*prev + v) / n)
		s.ReliabilityScore = s.OnTimePercentage
	}

	s.AvgNegotiationRounds = max(1, (s.AvgNegotiationRounds*prev+float64(deal.NegotiationRounds))/n)

	switch {
	case s.AvgNegotiationRounds <= 3:
		s.NegotiationFairness = 1.0
	case s.AvgNegotiationRounds <= 6:
		s.NegotiationFairness = 0.75
	default:
		s.NegotiationFairness = 0.5
	}

	s.OverallScore = unit(0.5*s.SuccessRate() + 0.3*s.ReliabilityScore + 0.2*s.NegotiationFairness)
	s.LastUpdated = now
}

func unit(v float64) float64 {
	return max(0, min(1, v))
}

// Tier is an advisory trust bucket.
type Tier string

const (
	TierUnknown    Tier = "unknown"
	TierTrusted    Tier = "trusted"
	TierAcceptable Tier = "acceptable"
	TierRisky      Tier = "risky"
)

// Advice is a read-only assessment of a trading partner.
type Advice struct {
	Tier    Tier    `json:"tier"`
	Trust   float64 `json:"trust"`
	Summary string  `json:"summary"`
}

// Advise classifies a partner's score. A nil score means no history.
func Advise(s *Score) Advice {
	if s == nil || s.TotalDeals == 0 {
		return Advice{Tier: TierUnknown, Trust: 0.5, Summary: "no deal history; treat as neutral"}
	}
	a := Advice{Trust: s.Trust()}
	switch {
	case s.OverallScore >= 0.8:
		a.Tier = TierTrusted
	case s.OverallScore >= 0.6:
		a.Tier = TierAcceptable
	default:
		a.Tier = TierRisky
	}
	a.Summary = fmt.Sprintf("%s partner: %d deals, %.0f%% success, %.0f%% on time, %.1f rounds on average",
		a.Tier, s.TotalDeals, s.SuccessRate()*100, s.OnTimePercentage*100, s.AvgNegotiationRounds)
	return a
}
