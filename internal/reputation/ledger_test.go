package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadReputation(ctx context.Context, agentID string) (*Score, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Score), args.Error(1)
}

func (m *MockStore) SaveReputation(ctx context.Context, s Score) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) SaveDeal(ctx context.Context, d domain.Deal) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockStore) SaveDelivery(ctx context.Context, d domain.Deal) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockStore) QueryDeals(ctx context.Context, q Query) ([]domain.Deal, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.Deal), args.Error(1)
}

func (m *MockStore) TopAgents(ctx context.Context, agentType domain.AgentType, limit int, metric Metric) ([]Score, error) {
	args := m.Called(ctx, agentType, limit, metric)
	return args.Get(0).([]Score), args.Error(1)
}

func (m *MockStore) DealStats(ctx context.Context, agentID string) (DealStats, error) {
	args := m.Called(ctx, agentID)
	return args.Get(0).(DealStats), args.Error(1)
}

func TestLedgerRecordDealUpdatesBothParties(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLedger(store)

	d := deal(domain.OutcomeSuccess, 2, boolPtr(true))
	d.Timestamp = time.Now()
	require.NoError(t, l.RecordDeal(ctx, d))

	wh, err := l.Reputation(ctx, "WH-1")
	require.NoError(t, err)
	require.NotNil(t, wh)
	assert.Equal(t, domain.AgentWarehouse, wh.AgentType)
	assert.Equal(t, 1, wh.TotalDeals)

	cr, err := l.Reputation(ctx, "CR-1")
	require.NoError(t, err)
	require.NotNil(t, cr)
	assert.Equal(t, domain.AgentCarrier, cr.AgentType)
	assert.Equal(t, 1, cr.SuccessfulDeals)

	missing, err := l.Reputation(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	deals, err := store.QueryDeals(ctx, Query{AgentID: "CR-1"})
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

func TestLedgerDegradesOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	boom := errors.New("disk full")

	store.On("SaveDeal", ctx, mock.Anything).Return(boom)
	store.On("LoadReputation", ctx, "WH-1").Return(nil, nil)
	store.On("LoadReputation", ctx, "CR-1").Return(nil, boom)
	store.On("SaveReputation", ctx, mock.MatchedBy(func(s Score) bool {
		return s.AgentID == "WH-1" && s.TotalDeals == 1
	})).Return(nil)

	l := NewLedger(store)
	err := l.RecordDeal(ctx, deal(domain.OutcomeSuccess, 1, nil))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), l.Failures())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "SaveReputation", ctx, mock.MatchedBy(func(s Score) bool { return s.AgentID == "CR-1" }))
}

func TestLedgerOpenDealThenDelivery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLedger(store)

	d := deal(domain.OutcomeSuccess, 1, nil)
	require.NoError(t, l.OpenDeal(ctx, d))

	deals, err := store.QueryDeals(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Nil(t, deals[0].OnTimeDelivery)
	cr, err := l.Reputation(ctx, "CR-1")
	require.NoError(t, err)
	assert.Nil(t, cr)

	d.OnTimeDelivery = boolPtr(false)
	require.NoError(t, l.RecordDelivery(ctx, d))

	deals, err = store.QueryDeals(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	require.NotNil(t, deals[0].OnTimeDelivery)
	assert.False(t, *deals[0].OnTimeDelivery)
	cr, err = l.Reputation(ctx, "CR-1")
	require.NoError(t, err)
	require.NotNil(t, cr)
	assert.Equal(t, 1, cr.TotalDeals)
	assert.Equal(t, 0.0, cr.OnTimePercentage)

	assert.Error(t, store.SaveDeal(ctx, d), "deal terms are written once")
	assert.Zero(t, l.Failures())
}

func TestLedgerDeliverySavesDealMissedAtClose(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	d := deal(domain.OutcomeSuccess, 1, boolPtr(true))

	store.On("SaveDelivery", ctx, d).Return(ErrDealNotFound)
	store.On("SaveDeal", ctx, d).Return(nil)
	store.On("LoadReputation", ctx, mock.Anything).Return(nil, nil)
	store.On("SaveReputation", ctx, mock.Anything).Return(nil)

	l := NewLedger(store)
	require.NoError(t, l.RecordDelivery(ctx, d))
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "SaveReputation", 2)
	assert.Zero(t, l.Failures())
}

func TestLedgerOpenDealCountsFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	boom := errors.New("disk full")
	store.On("SaveDeal", ctx, mock.Anything).Return(boom)

	l := NewLedger(store)
	assert.ErrorIs(t, l.OpenDeal(ctx, deal(domain.OutcomeSuccess, 1, nil)), boom)
	assert.Equal(t, int64(1), l.Failures())
	store.AssertNotCalled(t, "SaveReputation", ctx, mock.Anything)
}

func TestMemoryStoreQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, o := range []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeFailed, domain.OutcomeSuccess} {
		d := deal(o, i+1, boolPtr(i != 2))
		d.ID = string(rune('a' + i))
		d.AgreedPrice = float64(100 * (i + 1))
		d.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveDeal(ctx, d))
	}
	other := deal(domain.OutcomeSuccess, 1, nil)
	other.ID, other.WarehouseID, other.CarrierID = "z", "WH-2", "CR-2"
	other.Timestamp = base.Add(10 * time.Hour)
	require.NoError(t, store.SaveDeal(ctx, other))

	got, err := store.QueryDeals(ctx, Query{AgentID: "CR-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = store.QueryDeals(ctx, Query{Outcome: domain.OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "c", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})

	st, err := store.DealStats(ctx, "WH-1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Successful)
	assert.InDelta(t, 2.0, st.AvgRounds, 1e-9)
	assert.InDelta(t, 200.0, st.AvgPrice, 1e-9)
	assert.Equal(t, 2, st.OnTime)
	assert.InDelta(t, 2.0/3, st.OnTimePct, 1e-9)
}

func TestMemoryStoreTopAgents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for id, overall := range map[string]float64{"CR-A": 0.4, "CR-B": 0.9, "CR-C": 0.7} {
		s := NewScore(id, domain.AgentCarrier, now)
		s.OverallScore = overall
		require.NoError(t, store.SaveReputation(ctx, s))
	}
	require.NoError(t, store.SaveReputation(ctx, NewScore("WH-1", domain.AgentWarehouse, now)))

	top, err := store.TopAgents(ctx, domain.AgentCarrier, 2, MetricOverall)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "CR-B", top[0].AgentID)
	assert.Equal(t, "CR-C", top[1].AgentID)

	_, err = store.TopAgents(ctx, domain.AgentCarrier, 2, Metric("vibes"))
	assert.Error(t, err)
}
