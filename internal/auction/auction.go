package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

const defaultHistory = 500

// Auction is one sealed-bid auction. It is complete as soon as a winner is
// picked or no bids arrived; WinnerID is empty in the second case.
type Auction struct {
	ID           string             `json:"auction_id"`
	Order        domain.Order       `json:"order"`
	WarehouseID  string             `json:"warehouse_id"`
	Participants []string           `json:"participating_carriers"`
	Bids         []domain.Offer     `json:"bids"`
	IsComplete   bool               `json:"is_complete"`
	WinnerID     string             `json:"winner_id,omitempty"`
	WinningBid   *domain.Offer      `json:"winning_bid,omitempty"`
	Scores       map[string]float64 `json:"bid_scores"`
	Reasoning    string             `json:"selection_reasoning"`
	Weights      Weights            `json:"weights"`
	Facts        world.Facts        `json:"route_facts"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
}

// HasWinner reports whether the auction selected a carrier.
func (a *Auction) HasWinner() bool {
	return a.WinnerID != "" && a.WinningBid != nil
}

// Engine runs auctions over a world and keeps their history.
type Engine struct {
	world    *world.World
	reps     reputation.Reader
	sink     telemetry.Sink
	now      func() time.Time
	avgSpeed float64

	mu      sync.Mutex
	history []*Auction
	keep    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithReputation sets where bidder reputation is read from.
func WithReputation(r reputation.Reader) Option { return func(e *Engine) { e.reps = r } }

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option { return func(e *Engine) { e.sink = telemetry.OrNop(s) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithAvgSpeed sets the truck speed used for ETAs.
func WithAvgSpeed(mph float64) Option { return func(e *Engine) { e.avgSpeed = mph } }

// WithHistory bounds the number of completed auctions kept.
func WithHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.keep = n
		}
	}
}

// NewEngine builds an auction engine over w.
func NewEngine(w *world.World, opts ...Option) *Engine {
	e := &Engine{
		world:    w,
		sink:     telemetry.Nop{},
		now:      time.Now,
		avgSpeed: world.DefaultAvgSpeed,
		keep:     defaultHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MakeBid prices an order for one carrier: its target price for the lane
// (never below its cost floor) scaled by its persona and capped at the
// order's budget.
func MakeBid(c domain.Carrier, order domain.Order, facts world.Facts) (domain.Offer, error) {
	if err := c.Validate(); err != nil {
		return domain.Offer{}, err
	}
	costs := c.Costs(facts.Distance, facts.FuelMultiplier)
	base := max(costs.TargetPrice, costs.MinimumPrice)
	profile := c.Persona.Profile()

	price := base * profile.PriceMultiplier
	capped := price > order.MaxBudget
	if capped {
		price = order.MaxBudget
	}
	reason := fmt.Sprintf("%s: %s.", c.CompanyName, profile.Pitch)
	if capped {
		reason += " Bid capped at the order budget."
	}
	return domain.Offer{
		ID:             uuid.NewString(),
		Round:          1,
		SenderID:       c.ID,
		SenderType:     domain.AgentCarrier,
		OrderID:        order.ID,
		Price:          price,
		ETA:            facts.ETA * profile.ETAMultiplier,
		Reasoning:      reason,
		Status:         domain.StatusPending,
		Confidence:     0.8,
		Sustainability: profile.Sustainability,
	}, nil
}

// Run broadcasts the order, collects one bid per distinct carrier, scores
// the bids and selects a winner. Zero bids is a completed auction with no
// winner, not an error. Errors are returned for invalid orders and
// unreachable destinations.
func (e *Engine) Run(ctx context.Context, order domain.Order, warehouseID string, carriers []domain.Carrier, weights Weights) (*Auction, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	facts, err := e.world.RouteFacts(order.Origin, order.Destination, e.avgSpeed)
	if err != nil {
		return nil, fmt.Errorf("auction for %s: %w", order.ID, err)
	}

	carriers = distinct(carriers)
	a := &Auction{
		ID:          "AUC-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Order:       order,
		WarehouseID: warehouseID,
		Scores:      map[string]float64{},
		Weights:     weights.Normalize(),
		Facts:       facts,
		StartedAt:   e.now(),
	}
	for _, c := range carriers {
		a.Participants = append(a.Participants, c.ID)
	}
	e.emit(telemetry.EventAuctionStart, warehouseID,
		fmt.Sprintf("auction %s opened for %s with %d carriers", a.ID, order.ID, len(carriers)),
		map[string]any{"auction_id": a.ID, "order_id": order.ID, "carriers": a.Participants})

	bids, err := e.collect(ctx, a, carriers)
	if err != nil {
		return nil, err
	}
	a.Bids = bids

	if len(bids) == 0 {
		slog.Warn("auction received no bids", "auction_id", a.ID, "order_id", order.ID)
		a.Reasoning = "No bids received."
		e.complete(a)
		return a, nil
	}

	cands := make([]Candidate, len(bids))
	for i, b := range bids {
		cands[i] = Candidate{CarrierID: b.SenderID, Price: b.Price, ETA: b.ETA, Reputation: e.reputation(ctx, b.SenderID)}
	}
	scores, winner := Score(cands, a.Weights)
	for i, b := range bids {
		a.Scores[b.SenderID] = scores[i]
	}
	win := bids[winner]
	a.WinnerID = win.SenderID
	a.WinningBid = &win
	a.Reasoning = reasoning(cands, scores, winner, a.Weights)
	e.complete(a)
	return a, nil
}

// collect gathers bids concurrently. Slots keep submission order; a
// carrier whose bid cannot be computed is skipped.
func (e *Engine) collect(ctx context.Context, a *Auction, carriers []domain.Carrier) ([]domain.Offer, error) {
	slots := make([]*domain.Offer, len(carriers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range carriers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bid, err := MakeBid(c, a.Order, a.Facts)
			if err != nil {
				slog.Warn("carrier could not bid", "auction_id", a.ID, "carrier", c.ID, "error", err)
				return nil
			}
			bid.RecipientID = a.WarehouseID
			bid.CreatedAt = e.now()
			slots[i] = &bid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("auction %s: collecting bids: %w", a.ID, err)
	}

	var bids []domain.Offer
	for _, b := range slots {
		if b == nil {
			continue
		}
		bids = append(bids, *b)
		e.emit(telemetry.EventOffer, b.SenderID,
			fmt.Sprintf("%s bids $%.2f, ETA %.1fh", b.SenderID, b.Price, b.ETA),
			map[string]any{"auction_id": a.ID, "price": b.Price, "eta": b.ETA})
	}
	return bids, nil
}

func (e *Engine) reputation(ctx context.Context, carrierID string) float64 {
	if e.reps == nil {
		return NeutralReputation
	}
	s, err := e.reps.Reputation(ctx, carrierID)
	if err != nil {
		slog.Debug("reputation lookup failed, using neutral score", "carrier", carrierID, "error", err)
		return NeutralReputation
	}
	if s == nil || s.TotalDeals == 0 {
		return NeutralReputation
	}
	return (s.OverallScore + s.ReliabilityScore) / 2
}

func (e *Engine) complete(a *Auction) {
	a.IsComplete = true
	a.CompletedAt = e.now()

	e.mu.Lock()
	e.history = append(e.history, a)
	if over := len(e.history) - e.keep; over > 0 {
		e.history = append([]*Auction(nil), e.history[over:]...)
	}
	e.mu.Unlock()

	data := map[string]any{"auction_id": a.ID, "order_id": a.Order.ID, "num_bids": len(a.Bids), "bid_scores": a.Scores}
	msg := fmt.Sprintf("auction %s closed with no bids", a.ID)
	if a.HasWinner() {
		data["winner_id"] = a.WinnerID
		data["winning_price"] = a.WinningBid.Price
		data["winning_eta"] = a.WinningBid.ETA
		msg = fmt.Sprintf("auction %s won by %s at $%.2f", a.ID, a.WinnerID, a.WinningBid.Price)
		slog.Info("auction complete", "auction_id", a.ID, "winner", a.WinnerID, "price", a.WinningBid.Price)
	}
	e.emit(telemetry.EventAuctionComplete, a.WarehouseID, msg, data)
}

func (e *Engine) emit(t telemetry.EventType, actor, msg string, data map[string]any) {
	e.sink.Emit(telemetry.Event{Type: t, Tick: e.world.TickCount(), Actor: actor, Message: msg, Data: data, At: e.now()})
}

// History returns up to limit completed auctions, newest first. A limit
// of zero or less returns all of them.
func (e *Engine) History(limit int) []*Auction {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Auction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// CarrierStats summarises one carrier's auction record.
type CarrierStats struct {
	CarrierID      string  `json:"carrier_id"`
	Participations int     `json:"total_participations"`
	Wins           int     `json:"total_wins"`
	WinRate        float64 `json:"win_percentage"`
	TotalBidValue  float64 `json:"total_bid_value"`
	AvgBid         float64 `json:"avg_bid"`
}

// CarrierStats aggregates participation across the kept history, sorted
// by carrier id.
func (e *Engine) CarrierStats() []CarrierStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byID := map[string]*CarrierStats{}
	for _, a := range e.history {
		for _, id := range a.Participants {
			st, ok := byID[id]
			if !ok {
				st = &CarrierStats{CarrierID: id}
				byID[id] = st
			}
			st.Participations++
			for _, b := range a.Bids {
				if b.SenderID == id {
					st.TotalBidValue += b.Price
					break
				}
			}
			if a.WinnerID == id {
				st.Wins++
			}
		}
	}

	out := make([]CarrierStats, 0, len(byID))
	for _, st := range byID {
		st.WinRate = float64(st.Wins) / float64(st.Participations)
		st.AvgBid = st.TotalBidValue / float64(st.Participations)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CarrierID < out[j].CarrierID })
	return out
}

func distinct(carriers []domain.Carrier) []domain.Carrier {
	seen := make(map[string]bool, len(carriers))
	out := make([]domain.Carrier, 0, len(carriers))
	for _, c := range carriers {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func reasoning(cands []Candidate, scores []float64, winner int, w Weights) string {
	win := cands[winner]
	var b strings.Builder
	fmt.Fprintf(&b, "Selected %s at $%.2f with ETA %.1fh, score %.3f (weights: price %.2f, time %.2f, reputation %.2f).",
		win.CarrierID, win.Price, win.ETA, scores[winner], w.Price, w.Time, w.Reputation)
	runner := -1
	for i := range cands {
		if i != winner && (runner < 0 || scores[i] > scores[runner]) {
			runner = i
		}
	}
	if runner >= 0 {
		fmt.Fprintf(&b, " Runner-up %s scored %.3f at $%.2f.", cands[runner].CarrierID, scores[runner], cands[runner].Price)
	}
	return b.String()
}
