package auditor

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
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// MockNarrator is a mock implementation of Narrator.
type MockNarrator struct {
	mock.Mock
}

func (m *MockNarrator) Narrate(ctx context.Context, facts string) (string, error) {
	args := m.Called(ctx, facts)
	return args.String(0), args.Error(1)
}

func boolPtr(b bool) *bool { return &b }

func seed(t *testing.T) *reputation.Ledger {
	t.Helper()
	ctx := context.Background()
	l := reputation.NewLedger(reputation.NewMemoryStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deals := []domain.Deal{
		{ID: "D1", WarehouseID: "WH-CC", CarrierID: "CR-A", AgreedPrice: 600, NegotiationRounds: 1,
			Outcome: domain.OutcomeSuccess, OnTimeDelivery: boolPtr(true), Route: "Corpus Christi-Houston", Distance: 210},
		{ID: "D2", WarehouseID: "WH-CC", CarrierID: "CR-B", AgreedPrice: 400, NegotiationRounds: 2,
			Outcome: domain.OutcomeSuccess, OnTimeDelivery: boolPtr(false), Route: "Corpus Christi-Houston", Distance: 210},
		{ID: "D3", WarehouseID: "WH-AU", CarrierID: "CR-A", AgreedPrice: 400, NegotiationRounds: 3,
			Outcome: domain.OutcomeSuccess, OnTimeDelivery: boolPtr(true), Route: "Austin-San Antonio", Distance: 80},
		{ID: "D4", WarehouseID: "WH-AU", CarrierID: "CR-B", NegotiationRounds: 5, Outcome: domain.OutcomeFailed},
	}
	for i, d := range deals {
		d.Timestamp = base.Add(time.Duration(i) * time.Hour)
		d.CompletedAt = d.Timestamp
		require.NoError(t, l.RecordDeal(ctx, d))
	}
	return l
}

func TestReportFigures(t *testing.T) {
	l := seed(t)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	a := New(l.Store(), WithClock(func() time.Time { return now }))

	r, err := a.Report(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 4, r.TotalDeals)
	assert.Equal(t, 3, r.Successful)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 0.75, r.SuccessRate, 1e-9)
	assert.InDelta(t, 1400.0/3, r.AvgPrice, 1e-9)
	assert.InDelta(t, 2.75, r.AvgRounds, 1e-9)
	assert.Equal(t, 3, r.Delivered)
	assert.InDelta(t, 2.0/3, r.OnTimeRate, 1e-9)
	assert.Equal(t, HealthHealthy, r.Health)

	require.Len(t, r.Lanes, 2)
	assert.Equal(t, "Austin-San Antonio", r.Lanes[0].Route)
	assert.InDelta(t, 5.0, r.Lanes[0].AvgPricePerMile, 1e-9)
	assert.Equal(t, "Corpus Christi-Houston", r.Lanes[1].Route)
	assert.Equal(t, 2, r.Lanes[1].Deals)
	assert.InDelta(t, 500.0, r.Lanes[1].AvgPrice, 1e-9)

	require.NotEmpty(t, r.TopCarriers)
	assert.Equal(t, "CR-A", r.TopCarriers[0].AgentID)
	assert.NotEmpty(t, r.Insights)

	// Reading must not change reputation.
	before, err := l.Reputation(context.Background(), "CR-A")
	require.NoError(t, err)
	_, err = a.Report(context.Background(), 10)
	require.NoError(t, err)
	after, err := l.Reputation(context.Background(), "CR-A")
	require.NoError(t, err)
	assert.Equal(t, before.TotalDeals, after.TotalDeals)
	assert.Equal(t, before.OverallScore, after.OverallScore)
}

func TestReportWindow(t *testing.T) {
	a := New(seed(t).Store())
	r, err := a.Report(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalDeals)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, HealthDistressed, r.Health)
}

func TestEmptyMarket(t *testing.T) {
	a := New(reputation.NewMemoryStore(), WithWorld(world.NewTexas()))
	r, err := a.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRecentDeals, r.Window)
	assert.Equal(t, HealthUnknown, r.Health)
	assert.Equal(t, []string{"No deals recorded yet."}, r.Insights)
	require.NotNil(t, r.World)
	assert.Empty(t, r.World.ClosedRoutes)

	text := Briefing(r)
	assert.Contains(t, text, "MARKET HEALTH: UNKNOWN")
	assert.Contains(t, text, "No deals have been recorded yet.")
}

func TestHealthFor(t *testing.T) {
	assert.Equal(t, HealthUnknown, HealthFor(1, 0))
	assert.Equal(t, HealthHealthy, HealthFor(0.7, 5))
	assert.Equal(t, HealthStrained, HealthFor(0.4, 5))
	assert.Equal(t, HealthDistressed, HealthFor(0.39, 5))
}

func TestWorldConditionsInReport(t *testing.T) {
	w := world.NewTexas()
	require.True(t, w.CloseRoute("Austin", "Dallas"))
	require.True(t, w.UpdateWeather("Houston", "Dallas", world.WeatherStorm))
	require.True(t, w.UpdateInventory("Austin", 300))

	a := New(seed(t).Store(), WithWorld(w))
	r, err := a.Report(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, r.World)
	assert.Len(t, r.World.ClosedRoutes, 1)
	assert.Len(t, r.World.BadWeather, 1)
	assert.Equal(t, []string{"Austin (10%)"}, r.World.LowInventory)

	text := Briefing(r)
	assert.Contains(t, text, "closed:")
	assert.Contains(t, text, "low stock: Austin (10%)")
	assert.Contains(t, text, "1st. CR-A")
}

func TestNarrativeFallsBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	store := seed(t).Store()

	failing := new(MockNarrator)
	failing.On("Narrate", mock.Anything, mock.Anything).Return("", errors.New("rate limited"))
	a := New(store, WithNarrator(failing), WithClock(func() time.Time { return now }))
	r, err := a.Report(context.Background(), 10)
	require.NoError(t, err)

	text := a.Narrative(context.Background(), r)
	assert.Equal(t, Briefing(r), text)
	assert.Contains(t, text, "$466.67")
	assert.Contains(t, text, "Last deal closed 3 hours ago.")
	failing.AssertExpectations(t)

	writer := new(MockNarrator)
	writer.On("Narrate", mock.Anything, mock.MatchedBy(func(facts string) bool {
		return len(facts) > 0
	})).Return("Freight moved briskly today.", nil)
	a = New(store, WithNarrator(writer))
	assert.Equal(t, "Freight moved briskly today.", a.Narrative(context.Background(), r))

	assert.Equal(t, Briefing(r), New(store).Narrative(context.Background(), r))
}
