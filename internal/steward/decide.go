package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/engine"
)

const systemPrompt = `You are the Steward of a simulated freight market: warehouses in Texas cities buy trucking from carrier agents who bid in auctions or negotiate prices over a road network.

Your role: observe market health and recommend zero or one gentle intervention per cycle. You keep freight moving; you do not run the market.

## Core Values (in priority order)

1. ANTI-STOCKOUT: Act when a warehouse is empty or several sit below their reorder threshold. Restock the emptiest one first.

2. CONNECTIVITY: A closed road strands lanes and makes deliveries late. Reopen a road when closures are hurting the market.

3. AFFORDABILITY: Fuel multipliers above 2x price carriers out of budgets. Ease the worst one.

4. RESPECT FOR THE MARKET: Prices and reputations are the agents' business. Use the lightest touch possible. When in doubt, do nothing.

## Available Actions

- "none": No intervention needed. This is the RIGHT choice most of the time.
- "restock": Deliver units to a city's warehouse. Set "city" and "units".
- "open_route": Reopen a closed road. Set "source" and "target".
- "fuel": Lower a road's fuel multiplier. Set "source", "target" and "fuel_multiplier".

## Response Format

Respond with ONLY valid JSON (no markdown, no explanation outside the JSON):
{
  "action": "restock",
  "rationale": "Corpus Christi is empty and two auctions went unfilled.",
  "intervention": {"type": "restock", "city": "Corpus Christi", "units": 80}
}

When action is "none", set "intervention" to null.`

// Guardrails on what a single cycle may change.
const (
	maxRestockShare = 0.25 // of warehouse capacity
	minFuel         = 1.0
)

// Completer is the model call the steward needs. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error)
}

// Decision represents the recommended action.
type Decision struct {
	Action       string               `json:"action"`
	Rationale    string               `json:"rationale"`
	Intervention *engine.Intervention `json:"intervention"`
}

// Decide asks the model for a Decision. With no model it falls back to
// Suggest.
func Decide(ctx context.Context, model Completer, snap *MarketSnapshot, h *MarketHealth, mem *CycleMemory) (*Decision, error) {
	if model == nil {
		return Suggest(snap, h), nil
	}

	prompt := formatSnapshot(snap, h)
	if mem != nil {
		prompt += mem.FormatForPrompt()
	}
	slog.Debug("steward prompt", "length", len(prompt))

	resp, err := model.Complete(ctx, systemPrompt, prompt, 512)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	// Strip markdown fences if the model wraps them anyway.
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var decision Decision
	if err := json.Unmarshal([]byte(resp), &decision); err != nil {
		return nil, fmt.Errorf("parse decision (raw: %s): %w", resp, err)
	}

	if err := enforceGuardrails(&decision, snap); err != nil {
		return nil, fmt.Errorf("guardrail violation: %w", err)
	}

	return &decision, nil
}

// Suggest picks an intervention by rule: restock the emptiest warehouse in a
// crisis, else reopen a closed road, else ease the costliest fuel.
func Suggest(snap *MarketSnapshot, h *MarketHealth) *Decision {
	d := &Decision{Action: "none", Rationale: fmt.Sprintf("market %s, nothing to do", strings.ToLower(h.CrisisLevel))}

	switch {
	case len(h.LowStock) > 0 && (h.CrisisLevel == CrisisCritical || h.LowStock[0].Pct < h.LowStock[0].Threshold/2):
		low := h.LowStock[0]
		d.Action = engine.InterventionRestock
		d.Rationale = fmt.Sprintf("%s warehouse at %.0f%% of capacity", low.City, low.Pct*100)
		d.Intervention = &engine.Intervention{City: low.City, Units: low.Gap}
	case len(h.ClosedRoutes) > 0:
		r := h.ClosedRoutes[0]
		d.Action = engine.InterventionOpenRoute
		d.Rationale = fmt.Sprintf("%s is closed", r.Name())
		d.Intervention = &engine.Intervention{Source: r.Source, Target: r.Target}
	case len(h.CostlyRoutes) > 0:
		worst := h.CostlyRoutes[0]
		for _, r := range h.CostlyRoutes[1:] {
			if r.FuelMultiplier > worst.FuelMultiplier {
				worst = r
			}
		}
		d.Action = engine.InterventionFuel
		d.Rationale = fmt.Sprintf("fuel on %s at %.2fx", worst.Name(), worst.FuelMultiplier)
		d.Intervention = &engine.Intervention{
			Source: worst.Source,
			Target: worst.Target,
			Fuel:   1 + (worst.FuelMultiplier-1)/2,
		}
	}

	if err := enforceGuardrails(d, snap); err != nil {
		slog.Warn("steward suggestion rejected", "action", d.Action, "error", err)
		return &Decision{Action: "none", Rationale: err.Error()}
	}
	return d
}

// enforceGuardrails validates and clamps the decision within safe bounds.
func enforceGuardrails(d *Decision, snap *MarketSnapshot) error {
	switch d.Action {
	case "none":
		d.Intervention = nil
		return nil

	case engine.InterventionRestock, engine.InterventionOpenRoute, engine.InterventionFuel:
		if d.Intervention == nil {
			return fmt.Errorf("action %q requires an intervention payload", d.Action)
		}

	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}

	// Ensure intervention type matches action.
	d.Intervention.Type = d.Action

	switch d.Action {
	case engine.InterventionRestock:
		city, ok := snap.City(d.Intervention.City)
		if !ok {
			return fmt.Errorf("restock names unknown city %q", d.Intervention.City)
		}
		maxUnits := int(math.Round(float64(city.WarehouseCapacity) * maxRestockShare))
		maxUnits = min(maxUnits, city.WarehouseCapacity-city.CurrentInventory)
		if maxUnits < 1 {
			return fmt.Errorf("%s warehouse is full", city.Name)
		}
		if d.Intervention.Units > maxUnits {
			slog.Warn("steward restock capped", "requested", d.Intervention.Units, "capped", maxUnits)
			d.Intervention.Units = maxUnits
		}
		if d.Intervention.Units < 1 {
			d.Intervention.Units = 1
		}

	case engine.InterventionOpenRoute:
		r, ok := snap.Route(d.Intervention.Source, d.Intervention.Target)
		if !ok {
			return fmt.Errorf("no road between %s and %s", d.Intervention.Source, d.Intervention.Target)
		}
		if r.IsOpen {
			return fmt.Errorf("%s is already open", r.Name())
		}

	case engine.InterventionFuel:
		r, ok := snap.Route(d.Intervention.Source, d.Intervention.Target)
		if !ok {
			return fmt.Errorf("no road between %s and %s", d.Intervention.Source, d.Intervention.Target)
		}
		// The steward may only make fuel cheaper, and never below 1x.
		ceiling := math.Max(r.FuelMultiplier, minFuel)
		d.Intervention.Fuel = math.Min(math.Max(d.Intervention.Fuel, minFuel), ceiling)
	}

	return nil
}

// formatSnapshot builds a concise prompt from the market snapshot.
func formatSnapshot(snap *MarketSnapshot, h *MarketHealth) string {
	var b strings.Builder

	s := snap.Status
	m := s.Market
	fmt.Fprintf(&b, "## Market State (%s, mode %s)\n", s.SimTime, s.Mode)
	fmt.Fprintf(&b, "Orders: %s handled | %d unfilled | %d in transit\n",
		humanize.Comma(int64(m.Stats.OrdersHandled)), m.Stats.Unfilled, m.InTransit)
	fmt.Fprintf(&b, "Deliveries: %d (%d on time) | Failed negotiations: %d\n",
		m.Stats.Delivered, m.Stats.OnTime, m.Stats.Failed)
	fmt.Fprintf(&b, "Crisis level: %s\n\n", h.CrisisLevel)

	r := snap.Report
	fmt.Fprintf(&b, "## Recent Deals (last %d)\n", r.Window)
	fmt.Fprintf(&b, "Health: %s | Success: %.0f%% | On-time: %.0f%% | Avg price: $%.2f\n\n",
		r.Health, r.SuccessRate*100, r.OnTimeRate*100, r.AvgPrice)

	b.WriteString("## Warehouses\n")
	for _, d := range snap.Demand {
		pct := 0.0
		if d.Capacity > 0 {
			pct = float64(d.Inventory) / float64(d.Capacity)
		}
		fmt.Fprintf(&b, "- %s: %d/%d units (%.0f%%, reorder below %.0f%%)\n",
			d.City, d.Inventory, d.Capacity, pct*100, d.Threshold*100)
	}
	b.WriteString("\n## Roads\n")
	for _, rt := range snap.World.Routes {
		state := "open"
		if !rt.IsOpen {
			state = "CLOSED"
		}
		fmt.Fprintf(&b, "- %s: %.0f mi, %s, %s, fuel %.2fx, congestion %.2f\n",
			rt.Name(), rt.BaseDistance, state, rt.Weather, rt.FuelMultiplier, rt.Congestion)
	}
	b.WriteString("\n")

	return b.String()
}
