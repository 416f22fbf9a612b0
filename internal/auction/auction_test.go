package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// MockReader is a mock implementation of reputation.Reader.
type MockReader struct {
	mock.Mock
}

func (m *MockReader) Reputation(ctx context.Context, agentID string) (*reputation.Score, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reputation.Score), args.Error(1)
}

func testOrder(budget float64) domain.Order {
	return domain.Order{
		ID:            "ORD-A",
		Origin:        "Corpus Christi",
		Destination:   "Houston",
		WeightKg:      500,
		VolumeM3:      2.5,
		Priority:      domain.PriorityMedium,
		MaxBudget:     budget,
		DeadlineHours: 24,
		CreatedAt:     time.Now(),
	}
}

func TestWeightsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Weights
		want Weights
	}{
		{"already normal", Weights{0.5, 0.3, 0.2}, Weights{0.5, 0.3, 0.2}},
		{"scaled", Weights{5, 3, 2}, Weights{0.5, 0.3, 0.2}},
		{"all zero", Weights{}, DefaultWeights()},
		{"negative ignored", Weights{-1, 1, 1}, Weights{0, 0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.InDelta(t, tt.want.Price, got.Price, 1e-9)
			assert.InDelta(t, tt.want.Time, got.Time, 1e-9)
			assert.InDelta(t, tt.want.Reputation, got.Reputation, 1e-9)
		})
	}
}

func TestScoreTieGoesToFirst(t *testing.T) {
	cands := []Candidate{
		{CarrierID: "A", Price: 500, ETA: 4, Reputation: 0.5},
		{CarrierID: "B", Price: 500, ETA: 4, Reputation: 0.5},
		{CarrierID: "C", Price: 500, ETA: 4, Reputation: 0.5},
	}
	scores, winner := Score(cands, DefaultWeights())
	assert.Equal(t, 0, winner)
	for _, s := range scores {
		assert.InDelta(t, 0.9, s, 1e-9)
	}

	scores, winner = Score(nil, DefaultWeights())
	assert.Nil(t, scores)
	assert.Equal(t, -1, winner)
}

func TestScoreWinnerIsMaximalAndStable(t *testing.T) {
	cands := []Candidate{
		{CarrierID: "A", Price: 700, ETA: 3, Reputation: 0.9},
		{CarrierID: "B", Price: 450, ETA: 5, Reputation: 0.2},
		{CarrierID: "C", Price: 600, ETA: 3.5, Reputation: 0.7},
	}
	for _, w := range []Weights{{0.5, 0.3, 0.2}, {0.1, 0.1, 0.8}, {1, 0, 0}, {0, 1, 0}} {
		scores, winner := Score(cands, w)
		for i, s := range scores {
			assert.GreaterOrEqual(t, scores[winner], s, "weights %+v bid %d", w, i)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0+1e-9)
		}
		again, winner2 := Score(cands, w)
		assert.Equal(t, winner, winner2)
		assert.Equal(t, scores, again)
	}
}

func TestMakeBidPersonas(t *testing.T) {
	w := world.NewTexas()
	facts, err := w.RouteFacts("Corpus Christi", "Houston", 0)
	require.NoError(t, err)

	fleet := domain.DefaultFleet()
	premium, err := MakeBid(fleet[0], testOrder(800), facts)
	require.NoError(t, err)
	assert.InDelta(t, 525*1.15, premium.Price, 1e-9)
	assert.InDelta(t, facts.ETA*0.85, premium.ETA, 1e-9)
	assert.InDelta(t, 0.6, premium.Sustainability, 1e-9)

	capped, err := MakeBid(fleet[0], testOrder(500), facts)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, capped.Price, 1e-9)

	bad := fleet[1]
	bad.ProfitTargetPerMile = 0
	_, err = MakeBid(bad, testOrder(800), facts)
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)
}

func TestRunSelectsDiscountCarrier(t *testing.T) {
	rec := telemetry.NewRecorder(32)
	e := NewEngine(world.NewTexas(), WithSink(rec))

	a, err := e.Run(context.Background(), testOrder(800), "WH-CC", domain.DefaultFleet(), Weights{0.5, 0.3, 0.2})
	require.NoError(t, err)

	assert.True(t, a.IsComplete)
	assert.True(t, a.HasWinner())
	assert.Equal(t, "CR-BUDGET-001", a.WinnerID)
	assert.InDelta(t, 446.25, a.WinningBid.Price, 1e-9)
	require.Len(t, a.Bids, 3)
	assert.Equal(t, "CR-SWIFT-001", a.Bids[0].SenderID)
	assert.Equal(t, "CR-ECO-001", a.Bids[1].SenderID)
	assert.Equal(t, "CR-BUDGET-001", a.Bids[2].SenderID)

	assert.InDelta(t, 0.40, a.Scores["CR-SWIFT-001"], 1e-9)
	assert.InDelta(t, 0.5/3+0.3*0.375+0.1, a.Scores["CR-ECO-001"], 1e-9)
	assert.InDelta(t, 0.60, a.Scores["CR-BUDGET-001"], 1e-9)
	assert.Contains(t, a.Reasoning, "CR-BUDGET-001")
	assert.Regexp(t, `^AUC-[0-9a-f]{8}$`, a.ID)

	assert.Len(t, rec.Filter(telemetry.EventAuctionStart), 1)
	assert.Len(t, rec.Filter(telemetry.EventOffer), 3)
	assert.Len(t, rec.Filter(telemetry.EventAuctionComplete), 1)
}

func TestRunWithNoBids(t *testing.T) {
	e := NewEngine(world.NewTexas())

	a, err := e.Run(context.Background(), testOrder(800), "WH-CC", nil, DefaultWeights())
	require.NoError(t, err)
	assert.True(t, a.IsComplete)
	assert.False(t, a.HasWinner())
	assert.Empty(t, a.WinnerID)
	assert.Nil(t, a.WinningBid)

	broken := domain.DefaultFleet()
	for i := range broken {
		broken[i].ProfitTargetPerMile = -1
	}
	a, err = e.Run(context.Background(), testOrder(800), "WH-CC", broken, DefaultWeights())
	require.NoError(t, err)
	assert.True(t, a.IsComplete)
	assert.False(t, a.HasWinner())
	assert.Len(t, a.Participants, 3)
	assert.Empty(t, a.Bids)
}

func TestRunRejectsBadOrders(t *testing.T) {
	e := NewEngine(world.NewTexas())

	o := testOrder(0)
	_, err := e.Run(context.Background(), o, "WH-CC", domain.DefaultFleet(), DefaultWeights())
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	o = testOrder(800)
	o.Origin = "Lubbock"
	_, err = e.Run(context.Background(), o, "WH-CC", domain.DefaultFleet(), DefaultWeights())
	assert.ErrorIs(t, err, world.ErrUnknownCity)
}

func TestRunUsesReputation(t *testing.T) {
	reader := new(MockReader)
	strong := reputation.NewScore("CR-SWIFT-001", domain.AgentCarrier, time.Now())
	strong.TotalDeals = 20
	weak := reputation.NewScore("CR-BUDGET-001", domain.AgentCarrier, time.Now())
	weak.TotalDeals = 20
	weak.OverallScore, weak.ReliabilityScore = 0.1, 0.1
	reader.On("Reputation", mock.Anything, "CR-SWIFT-001").Return(&strong, nil)
	reader.On("Reputation", mock.Anything, "CR-ECO-001").Return(nil, errors.New("store down"))
	reader.On("Reputation", mock.Anything, "CR-BUDGET-001").Return(&weak, nil)

	e := NewEngine(world.NewTexas(), WithReputation(reader))
	a, err := e.Run(context.Background(), testOrder(800), "WH-CC", domain.DefaultFleet(), Weights{0.2, 0.2, 0.6})
	require.NoError(t, err)

	// PREMIUM: 0.2*0 + 0.2*1 + 0.6*1; GREEN falls back to neutral.
	assert.InDelta(t, 0.8, a.Scores["CR-SWIFT-001"], 1e-9)
	assert.InDelta(t, 0.2/3+0.2*0.375+0.3, a.Scores["CR-ECO-001"], 1e-9)
	assert.InDelta(t, 0.2+0.06, a.Scores["CR-BUDGET-001"], 1e-9)
	assert.Equal(t, "CR-SWIFT-001", a.WinnerID)
	reader.AssertExpectations(t)
}

func TestHistoryAndCarrierStats(t *testing.T) {
	e := NewEngine(world.NewTexas(), WithHistory(2))
	fleet := domain.DefaultFleet()

	var ids []string
	for range 3 {
		a, err := e.Run(context.Background(), testOrder(800), "WH-CC", fleet, DefaultWeights())
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	hist := e.History(10)
	require.Len(t, hist, 2)
	assert.Equal(t, ids[2], hist[0].ID)
	assert.Equal(t, ids[1], hist[1].ID)
	assert.Len(t, e.History(1), 1)

	stats := e.CarrierStats()
	require.Len(t, stats, 3)
	byID := map[string]CarrierStats{}
	for _, s := range stats {
		byID[s.CarrierID] = s
	}
	budget := byID["CR-BUDGET-001"]
	assert.Equal(t, 2, budget.Participations)
	assert.Equal(t, 2, budget.Wins)
	assert.InDelta(t, 1.0, budget.WinRate, 1e-9)
	assert.InDelta(t, 446.25, budget.AvgBid, 1e-9)
	assert.Equal(t, 0, byID["CR-SWIFT-001"].Wins)
}

func TestDuplicateCarriersBidOnce(t *testing.T) {
	e := NewEngine(world.NewTexas())
	fleet := domain.DefaultFleet()
	fleet = append(fleet, fleet[0])

	a, err := e.Run(context.Background(), testOrder(800), "WH-CC", fleet, DefaultWeights())
	require.NoError(t, err)
	assert.Len(t, a.Bids, 3)
	assert.Len(t, a.Participants, 3)
}
