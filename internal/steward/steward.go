package steward

import (
	"context"
	"fmt"
	"log/slog"
)

// Steward ties one observe, decide and act cycle together.
type Steward struct {
	Observer *Observer
	Actor    *Actor
	Model    Completer // nil = rule-based
	Memory   *CycleMemory
}

// New creates a Steward against the API at baseURL.
func New(baseURL, adminKey string, model Completer, mem *CycleMemory) *Steward {
	if mem == nil {
		mem = &CycleMemory{}
	}
	return &Steward{
		Observer: NewObserver(baseURL),
		Actor:    NewActor(baseURL, adminKey),
		Model:    model,
		Memory:   mem,
	}
}

// RunCycle executes one observe, decide, act cycle and returns the decision.
func (s *Steward) RunCycle(ctx context.Context) (*Decision, error) {
	snap, err := s.Observer.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	h := Triage(snap)
	slog.Info("observation complete",
		"tick", snap.Status.Tick,
		"crisis", h.CrisisLevel,
		"market_health", snap.Report.Health,
		"low_stock", len(h.LowStock),
		"closed_routes", len(h.ClosedRoutes),
	)

	decision, err := Decide(ctx, s.Model, snap, h, s.Memory)
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}
	slog.Info("decision made", "action", decision.Action, "rationale", decision.Rationale)

	rec := CycleRecord{
		Tick:        snap.Status.Tick,
		Action:      decision.Action,
		CrisisLevel: h.CrisisLevel,
		SuccessRate: h.SuccessRate,
		LowStock:    len(h.LowStock),
		Closed:      len(h.ClosedRoutes),
		Rationale:   decision.Rationale,
	}
	defer func() {
		s.Memory.Record(rec)
		if err := s.Memory.Save(); err != nil {
			slog.Error("steward memory not saved", "error", err)
		}
	}()

	if decision.Intervention == nil {
		return decision, nil
	}
	iv := decision.Intervention
	rec.Target = iv.City
	if rec.Target == "" {
		rec.Target = iv.Source + "-" + iv.Target
	}

	result, err := s.Actor.Act(ctx, iv)
	if err != nil {
		rec.Action = "failed:" + decision.Action
		return decision, fmt.Errorf("act: %w", err)
	}
	slog.Info("intervention executed", "type", iv.Type, "details", result.Description)
	return decision, nil
}
