// Package auditor reads deal history and reputation and writes market
// reports. It never changes what it reads.
package auditor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// DefaultRecentDeals is the analysis window when none is given.
const DefaultRecentDeals = 50

// Health labels the market from its recent success rate.
type Health string

const (
	HealthUnknown    Health = "UNKNOWN"
	HealthHealthy    Health = "HEALTHY"
	HealthStrained   Health = "STRAINED"
	HealthDistressed Health = "DISTRESSED"
)

// HealthFor maps a success rate over n deals to a label.
func HealthFor(successRate float64, n int) Health {
	switch {
	case n == 0:
		return HealthUnknown
	case successRate >= 0.7:
		return HealthHealthy
	case successRate >= 0.4:
		return HealthStrained
	default:
		return HealthDistressed
	}
}

// Lane summarises successful deals on one route.
type Lane struct {
	Route           string  `json:"route"`
	Deals           int     `json:"deals"`
	AvgPrice        float64 `json:"avg_price"`
	AvgPricePerMile float64 `json:"avg_price_per_mile"`
}

// WorldSummary is the part of the network worth reporting on.
type WorldSummary struct {
	Tick         uint64   `json:"tick"`
	ClosedRoutes []string `json:"closed_routes,omitempty"`
	BadWeather   []string `json:"bad_weather,omitempty"`
	LowInventory []string `json:"low_inventory,omitempty"`
}

// Report is one market audit.
type Report struct {
	ID          string             `json:"report_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Window      int                `json:"window"`
	TotalDeals  int                `json:"total_deals"`
	Successful  int                `json:"successful"`
	Failed      int                `json:"failed"`
	Cancelled   int                `json:"cancelled"`
	SuccessRate float64            `json:"success_rate"`
	AvgPrice    float64            `json:"avg_price"`
	AvgRounds   float64            `json:"avg_rounds"`
	OnTimeRate  float64            `json:"on_time_rate"`
	Delivered   int                `json:"delivered"`
	LastDealAt  time.Time          `json:"last_deal_at,omitempty"`
	Lanes       []Lane             `json:"lanes"`
	TopCarriers []reputation.Score `json:"top_carriers"`
	Health      Health             `json:"market_health"`
	Insights    []string           `json:"insights"`
	World       *WorldSummary      `json:"world,omitempty"`
}

// Narrator turns report facts into prose.
type Narrator interface {
	Narrate(ctx context.Context, facts string) (string, error)
}

// Auditor builds reports from a reputation store and, optionally, the
// live world.
type Auditor struct {
	store    reputation.Store
	world    *world.World
	narrator Narrator
	now      func() time.Time
	topN     int
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithWorld adds network conditions to reports.
func WithWorld(w *world.World) Option { return func(a *Auditor) { a.world = w } }

// WithNarrator sets the prose writer used by Narrative.
func WithNarrator(n Narrator) Option { return func(a *Auditor) { a.narrator = n } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Auditor) { a.now = now } }

// New returns an auditor over store.
func New(store reputation.Store, opts ...Option) *Auditor {
	a := &Auditor{store: store, now: time.Now, topN: 3}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Report analyses the most recent deals.
func (a *Auditor) Report(ctx context.Context, recent int) (*Report, error) {
	if recent <= 0 {
		recent = DefaultRecentDeals
	}
	deals, err := a.store.QueryDeals(ctx, reputation.Query{Limit: recent})
	if err != nil {
		return nil, fmt.Errorf("audit: load deals: %w", err)
	}
	top, err := a.store.TopAgents(ctx, domain.AgentCarrier, a.topN, reputation.MetricOverall)
	if err != nil {
		return nil, fmt.Errorf("audit: load reputations: %w", err)
	}

	r := &Report{
		ID:          uuid.NewString(),
		GeneratedAt: a.now(),
		Window:      recent,
		TopCarriers: top,
	}
	summarize(r, deals)
	if a.world != nil {
		r.World = summarizeWorld(a.world)
	}
	r.Health = HealthFor(r.SuccessRate, r.TotalDeals)
	r.Insights = insights(r)
	return r, nil
}

func summarize(r *Report, deals []domain.Deal) {
	r.TotalDeals = len(deals)
	var priceSum, roundSum float64
	var onTime int
	lanes := map[string]*Lane{}
	perMile := map[string]float64{}

	for _, d := range deals {
		roundSum += float64(d.NegotiationRounds)
		if d.CompletedAt.After(r.LastDealAt) {
			r.LastDealAt = d.CompletedAt
		}
		if d.OnTimeDelivery != nil {
			r.Delivered++
			if *d.OnTimeDelivery {
				onTime++
			}
		}
		switch d.Outcome {
		case domain.OutcomeSuccess:
			r.Successful++
			priceSum += d.AgreedPrice
			if d.Route == "" {
				continue
			}
			l, ok := lanes[d.Route]
			if !ok {
				l = &Lane{Route: d.Route}
				lanes[d.Route] = l
			}
			l.Deals++
			l.AvgPrice += d.AgreedPrice
			perMile[d.Route] += d.PricePerMile()
		case domain.OutcomeFailed:
			r.Failed++
		case domain.OutcomeCancelled:
			r.Cancelled++
		}
	}

	if r.TotalDeals > 0 {
		r.SuccessRate = float64(r.Successful) / float64(r.TotalDeals)
		r.AvgRounds = roundSum / float64(r.TotalDeals)
	}
	if r.Successful > 0 {
		r.AvgPrice = priceSum / float64(r.Successful)
	}
	if r.Delivered > 0 {
		r.OnTimeRate = float64(onTime) / float64(r.Delivered)
	}

	r.Lanes = make([]Lane, 0, len(lanes))
	for route, l := range lanes {
		l.AvgPrice /= float64(l.Deals)
		l.AvgPricePerMile = perMile[route] / float64(l.Deals)
		r.Lanes = append(r.Lanes, *l)
	}
	sort.Slice(r.Lanes, func(i, j int) bool {
		if r.Lanes[i].AvgPricePerMile != r.Lanes[j].AvgPricePerMile {
			return r.Lanes[i].AvgPricePerMile > r.Lanes[j].AvgPricePerMile
		}
		return r.Lanes[i].Route < r.Lanes[j].Route
	})
}

func summarizeWorld(w *world.World) *WorldSummary {
	s := &WorldSummary{Tick: w.TickCount()}
	for _, rt := range w.Routes() {
		if !rt.IsOpen {
			s.ClosedRoutes = append(s.ClosedRoutes, rt.Name())
		}
		if rt.Weather == world.WeatherStorm || rt.Weather == world.WeatherSevere {
			s.BadWeather = append(s.BadWeather, fmt.Sprintf("%s (%s)", rt.Name(), rt.Weather))
		}
	}
	for _, c := range w.Cities() {
		if c.InventoryPct() < 0.3 {
			s.LowInventory = append(s.LowInventory, fmt.Sprintf("%s (%.0f%%)", c.Name, c.InventoryPct()*100))
		}
	}
	return s
}

func insights(r *Report) []string {
	if r.TotalDeals == 0 {
		return []string{"No deals recorded yet."}
	}
	var out []string
	if r.SuccessRate < 0.5 {
		out = append(out, fmt.Sprintf("Only %.0f%% of recent negotiations closed; budgets may sit below carrier costs.", r.SuccessRate*100))
	}
	if r.AvgRounds > 3.5 {
		out = append(out, fmt.Sprintf("Negotiations are running long at %.1f rounds on average.", r.AvgRounds))
	}
	if r.Delivered > 0 && r.OnTimeRate < 0.8 {
		out = append(out, fmt.Sprintf("On-time delivery is %.0f%%; weather and congestion are hurting schedules.", r.OnTimeRate*100))
	}
	if len(r.Lanes) > 1 {
		hi, lo := r.Lanes[0], r.Lanes[len(r.Lanes)-1]
		out = append(out, fmt.Sprintf("Priciest lane is %s at $%.2f/mile; cheapest is %s at $%.2f/mile.",
			hi.Route, hi.AvgPricePerMile, lo.Route, lo.AvgPricePerMile))
	}
	if len(r.TopCarriers) > 0 && r.TopCarriers[0].TotalDeals > 0 {
		c := r.TopCarriers[0]
		out = append(out, fmt.Sprintf("%s leads carriers with an overall score of %.2f.", c.AgentID, c.OverallScore))
	}
	if r.World != nil {
		if n := len(r.World.ClosedRoutes); n > 0 {
			out = append(out, fmt.Sprintf("%d route(s) closed: %v.", n, r.World.ClosedRoutes))
		}
		if n := len(r.World.LowInventory); n > 0 {
			out = append(out, fmt.Sprintf("%d city warehouse(s) below 30%%: %v.", n, r.World.LowInventory))
		}
	}
	if len(out) == 0 {
		out = append(out, "Market is steady; no anomalies in the recent window.")
	}
	return out
}
