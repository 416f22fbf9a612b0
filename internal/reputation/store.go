package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// ErrDealNotFound is returned by SaveDelivery for a deal that was never saved.
var ErrDealNotFound = errors.New("deal not found")

// Metric names a column TopAgents can rank by.
type Metric string

const (
	MetricOverall     Metric = "overall_score"
	MetricReliability Metric = "reliability_score"
	MetricTotalDeals  Metric = "total_deals"
	MetricOnTime      Metric = "on_time_percentage"
)

// Valid reports whether m is a supported ranking.
func (m Metric) Valid() bool {
	switch m {
	case MetricOverall, MetricReliability, MetricTotalDeals, MetricOnTime:
		return true
	}
	return false
}

func (m Metric) value(s Score) float64 {
	switch m {
	case MetricReliability:
		return s.ReliabilityScore
	case MetricTotalDeals:
		return float64(s.TotalDeals)
	case MetricOnTime:
		return s.OnTimePercentage
	default:
		return s.OverallScore
	}
}

// Query filters deal history. AgentID matches either party; zero values
// disable a filter. Limit <= 0 means the default of 100.
type Query struct {
	AgentID string
	Outcome domain.Outcome
	Limit   int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 100
	}
	return q.Limit
}

func (q Query) matches(d domain.Deal) bool {
	if q.AgentID != "" && d.WarehouseID != q.AgentID && d.CarrierID != q.AgentID {
		return false
	}
	if q.Outcome != "" && d.Outcome != q.Outcome {
		return false
	}
	return true
}

// DealStats summarises deal history. OnTimePct is over deals whose
// delivery outcome is known.
type DealStats struct {
	Total      int     `json:"total_deals" db:"total"`
	Successful int     `json:"successful_deals" db:"successful"`
	AvgRounds  float64 `json:"avg_rounds" db:"avg_rounds"`
	AvgPrice   float64 `json:"avg_price" db:"avg_price"`
	OnTime     int     `json:"on_time_deliveries" db:"on_time"`
	Completed  int     `json:"completed_deliveries" db:"completed"`
	OnTimePct  float64 `json:"on_time_percentage" db:"-"`
}

// Store persists scores and deals. A missing score loads as (nil, nil).
// Deal terms are written once by SaveDeal; SaveDelivery fills in only the
// delivery fields of that row. QueryDeals returns newest first.
type Store interface {
	LoadReputation(ctx context.Context, agentID string) (*Score, error)
	SaveReputation(ctx context.Context, s Score) error
	SaveDeal(ctx context.Context, d domain.Deal) error
	SaveDelivery(ctx context.Context, d domain.Deal) error
	QueryDeals(ctx context.Context, q Query) ([]domain.Deal, error)
	TopAgents(ctx context.Context, agentType domain.AgentType, limit int, metric Metric) ([]Score, error)
	DealStats(ctx context.Context, agentID string) (DealStats, error)
}

// Reader is the read-only view engines score against.
type Reader interface {
	Reputation(ctx context.Context, agentID string) (*Score, error)
}

// ComputeDealStats summarises deals in memory.
func ComputeDealStats(deals []domain.Deal) DealStats {
	var st DealStats
	var rounds, price float64
	for _, d := range deals {
		st.Total++
		rounds += float64(d.NegotiationRounds)
		price += d.AgreedPrice
		if d.Outcome == domain.OutcomeSuccess {
			st.Successful++
		}
		if d.OnTimeDelivery != nil {
			st.Completed++
			if *d.OnTimeDelivery {
				st.OnTime++
			}
		}
	}
	if st.Total > 0 {
		st.AvgRounds = rounds / float64(st.Total)
		st.AvgPrice = price / float64(st.Total)
	}
	st.finish()
	return st
}

func (st *DealStats) finish() {
	if st.Completed > 0 {
		st.OnTimePct = float64(st.OnTime) / float64(st.Completed)
	}
}

func checkMetric(m Metric) error {
	if !m.Valid() {
		return fmt.Errorf("unknown reputation metric %q", m)
	}
	return nil
}
