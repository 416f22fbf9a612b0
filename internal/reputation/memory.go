package reputation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// MemoryStore keeps scores and deals in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[string]Score
	deals  []domain.Deal
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]Score)}
}

func (m *MemoryStore) LoadReputation(_ context.Context, agentID string) (*Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[agentID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) SaveReputation(_ context.Context, s Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[s.AgentID] = s
	return nil
}

func (m *MemoryStore) SaveDeal(_ context.Context, d domain.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deals {
		if existing.ID == d.ID {
			return fmt.Errorf("deal %s already saved", d.ID)
		}
	}
	m.deals = append(m.deals, d)
	return nil
}

func (m *MemoryStore) SaveDelivery(_ context.Context, d domain.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.deals {
		if m.deals[i].ID != d.ID {
			continue
		}
		m.deals[i].OnTimeDelivery = d.OnTimeDelivery
		m.deals[i].ActualETA = d.ActualETA
		m.deals[i].CompletedAt = d.CompletedAt
		return nil
	}
	return fmt.Errorf("deal %s: %w", d.ID, ErrDealNotFound)
}

// QueryDeals walks the history newest first; equal timestamps keep the
// later insert first.
func (m *MemoryStore) QueryDeals(_ context.Context, q Query) ([]domain.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]domain.Deal, 0)
	for i := len(m.deals) - 1; i >= 0; i-- {
		if q.matches(m.deals[i]) {
			matched = append(matched, m.deals[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > q.limit() {
		matched = matched[:q.limit()]
	}
	return matched, nil
}

func (m *MemoryStore) TopAgents(_ context.Context, agentType domain.AgentType, limit int, metric Metric) ([]Score, error) {
	if err := checkMetric(metric); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Score, 0, len(m.scores))
	for _, s := range m.scores {
		if agentType == "" || s.AgentType == agentType {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		vi, vj := metric.value(out[i]), metric.value(out[j])
		if vi != vj {
			return vi > vj
		}
		return out[i].AgentID < out[j].AgentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DealStats(ctx context.Context, agentID string) (DealStats, error) {
	deals, err := m.QueryDeals(ctx, Query{AgentID: agentID, Limit: math.MaxInt})
	if err != nil {
		return DealStats{}, err
	}
	return ComputeDealStats(deals), nil
}
