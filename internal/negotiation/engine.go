package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// Engine runs negotiations against a world. The rule-based source is
// always available; an optional source is consulted first and its output
// is used only when it is feasible.
type Engine struct {
	world     *world.World
	source    DecisionSource
	reps      reputation.Reader
	sink      telemetry.Sink
	now       func() time.Time
	maxRounds int
	avgSpeed  float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets the optional decision source.
func WithSource(s DecisionSource) Option { return func(e *Engine) { e.source = s } }

// WithReputation lets turns see the partner's standing.
func WithReputation(r reputation.Reader) Option { return func(e *Engine) { e.reps = r } }

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option { return func(e *Engine) { e.sink = telemetry.OrNop(s) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithMaxRounds sets the round limit; values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxRounds = n
		}
	}
}

// WithAvgSpeed sets the truck speed used for ETAs.
func WithAvgSpeed(mph float64) Option { return func(e *Engine) { e.avgSpeed = mph } }

// NewEngine builds an engine over w.
func NewEngine(w *world.World, opts ...Option) *Engine {
	e := &Engine{
		world:     w,
		sink:      telemetry.Nop{},
		now:       time.Now,
		maxRounds: DefaultMaxRounds,
		avgSpeed:  world.DefaultAvgSpeed,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates the order and both parties and opens a negotiation
// awaiting the warehouse. The route facts and fair range are fixed here.
func (e *Engine) Start(order domain.Order, wh domain.Warehouse, cr domain.Carrier) (*State, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := wh.Validate(); err != nil {
		return nil, err
	}
	if err := cr.Validate(); err != nil {
		return nil, err
	}
	facts, err := e.world.RouteFacts(order.Origin, order.Destination, e.avgSpeed)
	if err != nil {
		return nil, fmt.Errorf("negotiation for %s: %w", order.ID, err)
	}
	fair, err := e.world.FairPriceRange(order.Origin, order.Destination, order.WeightKg)
	if err != nil {
		return nil, fmt.Errorf("negotiation for %s: %w", order.ID, err)
	}

	st := &State{
		ID:           uuid.NewString(),
		Order:        order,
		WarehouseID:  wh.ID,
		CarrierID:    cr.ID,
		CurrentRound: 1,
		MaxRounds:    e.maxRounds,
		Phase:        AwaitingWarehouse,
		StartedAt:    e.now(),
		Facts:        facts,
		Fair:         fair,
		Warehouse:    wh,
		Carrier:      cr,
	}
	e.emit(st, telemetry.EventNegotiationStart, wh.ID,
		fmt.Sprintf("negotiation %s opened for %s (%s to %s)", st.ID, order.ID, order.Origin, order.Destination),
		map[string]any{"fair_min": fair.Min, "fair_max": fair.Max, "max_budget": order.MaxBudget})
	return st, nil
}

// Run starts a negotiation and plays it to a terminal phase.
func (e *Engine) Run(ctx context.Context, order domain.Order, wh domain.Warehouse, cr domain.Carrier) (*State, error) {
	st, err := e.Start(order, wh, cr)
	if err != nil {
		return nil, err
	}
	for !st.IsComplete {
		e.Step(ctx, st)
	}
	return st, nil
}

// Step plays exactly one turn. It is a no-op once the negotiation is
// terminal.
func (e *Engine) Step(ctx context.Context, st *State) {
	switch st.Phase {
	case AwaitingWarehouse:
		e.warehouseTurn(ctx, st)
	case AwaitingCarrier:
		e.carrierTurn(ctx, st)
	default:
		return
	}
	if st.IsComplete {
		e.emit(st, telemetry.EventNegotiationEnd, st.WarehouseID,
			fmt.Sprintf("negotiation %s %s after %d round(s)", st.ID, st.FinalStatus, st.Rounds()),
			map[string]any{"final_status": st.FinalStatus, "agreed_price": st.AgreedPrice})
	}
}

func (e *Engine) turn(ctx context.Context, st *State, role domain.AgentType) Turn {
	t := Turn{
		Role:      role,
		Order:     st.Order,
		Facts:     st.Facts,
		Fair:      st.Fair,
		Round:     st.CurrentRound,
		MaxRounds: st.MaxRounds,
		History:   st.Offers,
		Warehouse: st.Warehouse,
		Carrier:   st.Carrier,
	}
	if o, ok := st.LastOffer(); ok {
		t.Incoming = &o
	}
	partner := st.CarrierID
	if role == domain.AgentCarrier {
		partner = st.WarehouseID
	}
	t.Partner = reputation.Advise(nil)
	if e.reps != nil {
		if s, err := e.reps.Reputation(ctx, partner); err == nil {
			t.Partner = reputation.Advise(s)
		}
	}
	return t
}

// decide consults the optional source and falls back to the rules when it
// errors or proposes something infeasible. The source is asked once.
func (e *Engine) decide(ctx context.Context, t Turn) Decision {
	rule, _ := Rules{}.Propose(ctx, t)
	if e.source == nil {
		return rule
	}

	d, err := e.source.Propose(ctx, t)
	if err != nil {
		slog.Debug("decision source failed, falling back to rules", "role", t.Role, "round", t.Round, "error", err)
		return rule
	}
	if t.Incoming == nil {
		d.Status = domain.StatusPending
	}
	if err := checkFeasible(t, d); err != nil {
		slog.Debug("decision source infeasible, falling back to rules", "role", t.Role, "round", t.Round, "error", err)
		return rule
	}
	if math.IsNaN(d.ETA) || math.IsInf(d.ETA, 0) || d.ETA < 0 {
		d.ETA = rule.ETA
	}
	d.Confidence = max(0, min(1, d.Confidence))
	if d.Reasoning == "" {
		d.Reasoning = rule.Reasoning
	}
	return d
}

func (e *Engine) warehouseTurn(ctx context.Context, st *State) {
	t := e.turn(ctx, st, domain.AgentWarehouse)
	d := e.decide(ctx, t)
	now := e.now()

	if t.Incoming == nil {
		e.appendOffer(st, domain.AgentWarehouse, d, domain.StatusPending, now)
		st.Phase = AwaitingCarrier
		return
	}

	e.appendResponse(st, domain.AgentWarehouse, *t.Incoming, d, now)
	switch d.Status {
	case domain.StatusAccepted:
		price, eta := t.Incoming.Price, t.Incoming.ETA
		st.AgreedPrice, st.AgreedETA = &price, &eta
		st.finish(Accepted, domain.StatusAccepted, now)
	case domain.StatusRejected:
		st.finish(Rejected, domain.StatusRejected, now)
	default:
		e.appendOffer(st, domain.AgentWarehouse, d, domain.StatusCounterOffer, now)
		st.Phase = AwaitingCarrier
	}
}

func (e *Engine) carrierTurn(ctx context.Context, st *State) {
	t := e.turn(ctx, st, domain.AgentCarrier)
	d := e.decide(ctx, t)
	now := e.now()

	e.appendResponse(st, domain.AgentCarrier, *t.Incoming, d, now)
	switch d.Status {
	case domain.StatusAccepted:
		price, eta := t.Incoming.Price, d.ETA
		st.AgreedPrice, st.AgreedETA = &price, &eta
		st.finish(Accepted, domain.StatusAccepted, now)
	case domain.StatusRejected:
		st.finish(Rejected, domain.StatusRejected, now)
	default:
		e.appendOffer(st, domain.AgentCarrier, d, domain.StatusCounterOffer, now)
		st.CurrentRound++
		if st.CurrentRound > st.MaxRounds {
			st.finish(Expired, domain.StatusExpired, now)
			return
		}
		st.Phase = AwaitingWarehouse
	}
}

func (e *Engine) appendOffer(st *State, from domain.AgentType, d Decision, status domain.Status, now time.Time) {
	sender, recipient := st.WarehouseID, st.CarrierID
	if from == domain.AgentCarrier {
		sender, recipient = recipient, sender
	}
	o := domain.Offer{
		ID:          uuid.NewString(),
		Round:       st.CurrentRound,
		SenderID:    sender,
		SenderType:  from,
		RecipientID: recipient,
		OrderID:     st.Order.ID,
		Price:       d.Price,
		Reasoning:   d.Reasoning,
		ETA:         d.ETA,
		Status:      status,
		Confidence:  d.Confidence,
		CreatedAt:   now,
	}
	if from == domain.AgentCarrier {
		o.Sustainability = st.Carrier.Persona.Profile().Sustainability
	}
	st.Offers = append(st.Offers, o)
	e.emit(st, telemetry.EventOffer, sender,
		fmt.Sprintf("%s offers $%.2f (round %d)", sender, o.Price, o.Round),
		map[string]any{"price": o.Price, "eta": o.ETA, "round": o.Round, "confidence": o.Confidence})
}

func (e *Engine) appendResponse(st *State, from domain.AgentType, to domain.Offer, d Decision, now time.Time) {
	responder := st.WarehouseID
	if from == domain.AgentCarrier {
		responder = st.CarrierID
	}
	r := domain.Response{
		ID:            uuid.NewString(),
		OfferID:       to.ID,
		ResponderID:   responder,
		ResponderType: from,
		Status:        d.Status,
		Reasoning:     d.Reasoning,
		CounterETA:    d.ETA,
		CreatedAt:     now,
	}
	if d.Status == domain.StatusCounterOffer {
		price := d.Price
		r.CounterPrice = &price
	}
	st.Responses = append(st.Responses, r)
	e.emit(st, telemetry.EventResponse, responder,
		fmt.Sprintf("%s %s $%.2f", responder, d.Status, to.Price),
		map[string]any{"status": d.Status, "reasoning": d.Reasoning})
}

func (e *Engine) emit(st *State, t telemetry.EventType, actor, msg string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["negotiation_id"] = st.ID
	data["order_id"] = st.Order.ID
	e.sink.Emit(telemetry.Event{
		Type:    t,
		Tick:    e.world.TickCount(),
		Actor:   actor,
		Message: msg,
		Data:    data,
		At:      e.now(),
	})
}
