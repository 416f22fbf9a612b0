// Package auction runs single-round sealed-bid auctions in which every
// carrier bids once and the warehouse picks the best weighted score.
package auction

import (
	"math"
)

// Weights balance price, delivery time and reputation in bid scoring.
type Weights struct {
	Price      float64 `json:"price_weight" mapstructure:"price"`
	Time       float64 `json:"time_weight" mapstructure:"time"`
	Reputation float64 `json:"reputation_weight" mapstructure:"reputation"`
}

// DefaultWeights favours price, then speed, then reputation.
func DefaultWeights() Weights {
	return Weights{Price: 0.5, Time: 0.3, Reputation: 0.2}
}

// Normalize scales the weights to sum to 1. Negative weights count as zero
// and an all-zero set becomes DefaultWeights.
func (w Weights) Normalize() Weights {
	p, t, r := max(w.Price, 0), max(w.Time, 0), max(w.Reputation, 0)
	sum := p + t + r
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DefaultWeights()
	}
	return Weights{Price: p / sum, Time: t / sum, Reputation: r / sum}
}

// NeutralReputation is used for bidders with no history.
const NeutralReputation = 0.5

// Candidate is the part of a bid that scoring looks at.
type Candidate struct {
	CarrierID  string
	Price      float64
	ETA        float64
	Reputation float64
}

// Score rates every candidate in [0,1] and returns the index of the
// winner, or -1 when there are none. Cheaper and faster bids score higher
// relative to the rest of the set. Ties go to the earliest candidate.
// Score is pure: the same candidates and weights always give the same
// result.
func Score(cands []Candidate, weights Weights) (scores []float64, winner int) {
	if len(cands) == 0 {
		return nil, -1
	}
	w := weights.Normalize()

	minP, maxP := math.Inf(1), math.Inf(-1)
	minT, maxT := math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		minP, maxP = min(minP, c.Price), max(maxP, c.Price)
		minT, maxT = min(minT, c.ETA), max(maxT, c.ETA)
	}

	scores = make([]float64, len(cands))
	winner = 0
	for i, c := range cands {
		rep := c.Reputation
		if math.IsNaN(rep) {
			rep = NeutralReputation
		}
		rep = max(0, min(1, rep))
		scores[i] = w.Price*relative(c.Price, minP, maxP) +
			w.Time*relative(c.ETA, minT, maxT) +
			w.Reputation*rep
		if scores[i] > scores[winner] {
			winner = i
		}
	}
	return scores, winner
}

// relative maps v in [lo, hi] to 1 at lo and 0 at hi.
func relative(v, lo, hi float64) float64 {
	if hi == lo {
		return 1
	}
	return 1 - (v-lo)/(hi-lo)
}
