package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
)

// Ledger records deals and applies their outcomes to both parties' scores.
// Store failures degrade the ledger instead of failing the caller: the
// error is logged, counted and returned, and the deal outcome stands.
type Ledger struct {
	store Store
	now   func() time.Time

	// Serialises read-modify-write of scores.
	mu       sync.Mutex
	failures atomic.Int64
}

// NewLedger wraps a store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Store returns the underlying store for read-only queries.
func (l *Ledger) Store() Store { return l.store }

// Failures returns how many persistence operations have failed.
func (l *Ledger) Failures() int64 { return l.failures.Load() }

// OpenDeal writes a dispatched deal to history at close, before its
// delivery is known. Scores are not touched until RecordDelivery.
func (l *Ledger) OpenDeal(ctx context.Context, deal domain.Deal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.SaveDeal(ctx, deal); err != nil {
		return l.degraded(deal, []error{fmt.Errorf("save deal %s: %w", deal.ID, err)})
	}
	slog.Debug("deal opened", "deal_id", deal.ID, "warehouse", deal.WarehouseID, "carrier", deal.CarrierID)
	return nil
}

// RecordDelivery fills the delivery outcome into a deal written by
// OpenDeal and updates both parties' scores. A deal that never made it
// into history is saved whole. It must be called exactly once per
// delivered deal.
func (l *Ledger) RecordDelivery(ctx context.Context, deal domain.Deal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	err := l.store.SaveDelivery(ctx, deal)
	if errors.Is(err, ErrDealNotFound) {
		err = l.store.SaveDeal(ctx, deal)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("save delivery %s: %w", deal.ID, err))
	}
	errs = append(errs, l.applyScores(ctx, deal)...)
	if len(errs) > 0 {
		return l.degraded(deal, errs)
	}
	slog.Debug("delivery recorded", "deal_id", deal.ID, "on_time", deal.OnTimeDelivery,
		"warehouse", deal.WarehouseID, "carrier", deal.CarrierID)
	return nil
}

// RecordDeal saves a deal that closes without a shipment and updates the
// warehouse and carrier scores. It must be called exactly once per deal.
func (l *Ledger) RecordDeal(ctx context.Context, deal domain.Deal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if err := l.store.SaveDeal(ctx, deal); err != nil {
		errs = append(errs, fmt.Errorf("save deal %s: %w", deal.ID, err))
	}
	errs = append(errs, l.applyScores(ctx, deal)...)
	if len(errs) > 0 {
		return l.degraded(deal, errs)
	}
	slog.Debug("deal recorded", "deal_id", deal.ID, "outcome", deal.Outcome,
		"warehouse", deal.WarehouseID, "carrier", deal.CarrierID)
	return nil
}

// applyScores runs the read-modify-write for both parties. Callers hold mu.
func (l *Ledger) applyScores(ctx context.Context, deal domain.Deal) []error {
	parties := []struct {
		id string
		t  domain.AgentType
	}{
		{deal.WarehouseID, domain.AgentWarehouse},
		{deal.CarrierID, domain.AgentCarrier},
	}
	var errs []error
	now := l.now()
	for _, p := range parties {
		if p.id == "" {
			continue
		}
		s, err := l.store.LoadReputation(ctx, p.id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load reputation %s: %w", p.id, err))
			continue
		}
		score := NewScore(p.id, p.t, now)
		if s != nil {
			score = *s
		}
		ApplyDealOutcome(&score, deal, now)
		if err := l.store.SaveReputation(ctx, score); err != nil {
			errs = append(errs, fmt.Errorf("save reputation %s: %w", p.id, err))
		}
	}
	return errs
}

func (l *Ledger) degraded(deal domain.Deal, errs []error) error {
	l.failures.Add(int64(len(errs)))
	for _, err := range errs {
		slog.Warn("reputation store degraded", "deal_id", deal.ID, "error", err)
	}
	return errs[0]
}

// Reputation loads a score read-only. A missing agent is (nil, nil).
func (l *Ledger) Reputation(ctx context.Context, agentID string) (*Score, error) {
	return l.store.LoadReputation(ctx, agentID)
}
