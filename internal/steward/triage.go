package steward

import (
	"sort"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auditor"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// Crisis levels, worst first.
const (
	CrisisCritical = "CRITICAL"
	CrisisWarning  = "WARNING"
	CrisisWatch    = "WATCH"
	CrisisHealthy  = "HEALTHY"
)

// Below this on-time rate deliveries are worth watching.
const onTimeWatch = 0.8

// StockLevel is one warehouse's fill against its reorder threshold.
type StockLevel struct {
	City      string
	Pct       float64
	Threshold float64
	Gap       int // units to capacity
}

// MarketHealth holds derived diagnostic signals computed from a MarketSnapshot.
// Runs before the model, deterministic and free.
type MarketHealth struct {
	ClosedRoutes []world.Route
	StormRoutes  []world.Route // STORM or SEVERE
	CostlyRoutes []world.Route // fuel above 2x
	LowStock     []StockLevel  // below threshold, emptiest first
	EmptyCities  int
	SuccessRate  float64
	OnTimeRate   float64
	Unfilled     int
	CrisisLevel  string
}

// Triage computes a MarketHealth from the snapshot's data.
func Triage(snap *MarketSnapshot) *MarketHealth {
	h := &MarketHealth{
		SuccessRate: snap.Report.SuccessRate,
		OnTimeRate:  snap.Report.OnTimeRate,
		Unfilled:    snap.Status.Market.Stats.Unfilled,
	}

	for _, r := range snap.World.Routes {
		switch {
		case !r.IsOpen:
			h.ClosedRoutes = append(h.ClosedRoutes, r)
		case r.Weather == world.WeatherStorm || r.Weather == world.WeatherSevere:
			h.StormRoutes = append(h.StormRoutes, r)
		}
		if r.FuelMultiplier > 2.0 {
			h.CostlyRoutes = append(h.CostlyRoutes, r)
		}
	}

	for _, d := range snap.Demand {
		if d.Capacity <= 0 {
			continue
		}
		pct := float64(d.Inventory) / float64(d.Capacity)
		if pct >= d.Threshold {
			continue
		}
		h.LowStock = append(h.LowStock, StockLevel{
			City:      d.City,
			Pct:       pct,
			Threshold: d.Threshold,
			Gap:       d.Capacity - d.Inventory,
		})
		if d.Inventory == 0 {
			h.EmptyCities++
		}
	}
	sort.SliceStable(h.LowStock, func(i, j int) bool { return h.LowStock[i].Pct < h.LowStock[j].Pct })

	lowFraction := 0.0
	if len(snap.Demand) > 0 {
		lowFraction = float64(len(h.LowStock)) / float64(len(snap.Demand))
	}

	h.CrisisLevel = CrisisHealthy
	switch {
	case snap.Report.Health == auditor.HealthDistressed:
		h.CrisisLevel = CrisisCritical
	case h.EmptyCities > 0:
		h.CrisisLevel = CrisisCritical
	case lowFraction >= 0.5:
		h.CrisisLevel = CrisisCritical
	case snap.Report.Health == auditor.HealthStrained:
		h.CrisisLevel = CrisisWarning
	case len(h.ClosedRoutes) > 0 || len(h.LowStock) > 0:
		h.CrisisLevel = CrisisWarning
	case len(h.StormRoutes) > 0 || len(h.CostlyRoutes) > 0:
		h.CrisisLevel = CrisisWatch
	case snap.Report.Delivered > 0 && h.OnTimeRate < onTimeWatch:
		h.CrisisLevel = CrisisWatch
	}

	return h
}
