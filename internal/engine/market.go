package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auction"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/heartbeat"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/negotiation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// Mode selects how generated orders are matched with carriers.
type Mode string

const (
	ModeAuction     Mode = "auction"
	ModeNegotiation Mode = "negotiation"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAuction || m == ModeNegotiation
}

const (
	defaultRecentDeals = 100
	defaultAvgSpeed    = 55.0

	// Each inventory unit weighs 50 kg.
	kgPerUnit = 50.0
)

// Shipment is a successful deal on the road. Its deal enters history at
// dispatch; the delivery outcome and scores are recorded when it arrives.
type Shipment struct {
	Deal    domain.Deal    `json:"deal"`
	Order   domain.Order   `json:"order"`
	Carrier domain.Carrier `json:"carrier"`
	DueTick uint64         `json:"due_tick"`
}

// MarketStats counts what the market has done since start.
type MarketStats struct {
	OrdersHandled int `json:"orders_handled"`
	Unfilled      int `json:"unfilled"`
	Dispatched    int `json:"dispatched"`
	Delivered     int `json:"delivered"`
	OnTime        int `json:"on_time"`
	Failed        int `json:"failed"`
}

// Summary is a point-in-time view of the market.
type Summary struct {
	Tick           uint64          `json:"tick"`
	SimTime        string          `json:"sim_time"`
	Mode           Mode            `json:"mode"`
	Stats          MarketStats     `json:"stats"`
	InTransit      int             `json:"in_transit"`
	StoreFailures  int64           `json:"store_failures"`
	Heartbeat      heartbeat.Stats `json:"heartbeat"`
	Carriers       int             `json:"carriers"`
	ChaosLevel     float64         `json:"chaos_level"`
	TrafficEnabled bool            `json:"traffic_enabled"`
}

// Market closes the loop on every tick: the heartbeat raises orders, each
// order is auctioned or negotiated, winning carriers ship, and arrivals
// restock the destination and feed the reputation ledger.
type Market struct {
	World        *world.World
	Heartbeat    *heartbeat.Heartbeat
	Negotiations *negotiation.Engine
	Auctions     *auction.Engine
	Ledger       *reputation.Ledger

	chaos        *world.Chaos
	traffic      *world.TrafficField
	sink         telemetry.Sink
	now          func() time.Time
	mode         Mode
	weights      auction.Weights
	avgSpeed     float64
	hoursPerTick float64

	mu         sync.Mutex
	fleet      []domain.Carrier
	warehouses map[string]domain.Warehouse
	transit    []Shipment
	recent     []domain.Deal
	keep       int
	stats      MarketStats
}

// MarketOption configures a Market.
type MarketOption func(*Market)

// WithMode picks auction or negotiation matching. Unknown modes are ignored.
func WithMode(mode Mode) MarketOption {
	return func(m *Market) {
		if mode.Valid() {
			m.mode = mode
		}
	}
}

// WithWeights sets the auction scoring weights.
func WithWeights(w auction.Weights) MarketOption { return func(m *Market) { m.weights = w.Normalize() } }

// WithMarketSink sets the telemetry sink shared by every engine the
// market builds.
func WithMarketSink(s telemetry.Sink) MarketOption { return func(m *Market) { m.sink = telemetry.OrNop(s) } }

// WithMarketClock overrides time.Now.
func WithMarketClock(now func() time.Time) MarketOption { return func(m *Market) { m.now = now } }

// WithChaos enables random disruption through ApplyChaos.
func WithChaos(c *world.Chaos) MarketOption { return func(m *Market) { m.chaos = c } }

// WithTraffic drives congestion from a noise field every tick.
func WithTraffic(t *world.TrafficField) MarketOption { return func(m *Market) { m.traffic = t } }

// WithHeartbeat replaces the default heartbeat.
func WithHeartbeat(h *heartbeat.Heartbeat) MarketOption { return func(m *Market) { m.Heartbeat = h } }

// WithNegotiations replaces the default negotiation engine.
func WithNegotiations(e *negotiation.Engine) MarketOption {
	return func(m *Market) { m.Negotiations = e }
}

// WithAuctions replaces the default auction engine.
func WithAuctions(e *auction.Engine) MarketOption { return func(m *Market) { m.Auctions = e } }

// WithHoursPerTick sets how many sim hours a tick covers for shipment
// arrival. Values <= 0 are ignored.
func WithHoursPerTick(h float64) MarketOption {
	return func(m *Market) {
		if h > 0 {
			m.hoursPerTick = h
		}
	}
}

// WithMarketAvgSpeed sets the truck speed used to time deliveries.
func WithMarketAvgSpeed(mph float64) MarketOption {
	return func(m *Market) {
		if mph > 0 {
			m.avgSpeed = mph
		}
	}
}

// WithRecentDeals bounds the recent-deal ring.
func WithRecentDeals(n int) MarketOption {
	return func(m *Market) {
		if n > 0 {
			m.keep = n
		}
	}
}

// NewMarket wires a market over w. Engines not supplied by options are
// built with defaults, reading reputation from ledger and emitting to the
// market's sink.
func NewMarket(w *world.World, ledger *reputation.Ledger, fleet []domain.Carrier, opts ...MarketOption) (*Market, error) {
	for _, c := range fleet {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("market fleet: %w", err)
		}
	}
	m := &Market{
		World:        w,
		Ledger:       ledger,
		sink:         telemetry.Nop{},
		now:          time.Now,
		mode:         ModeAuction,
		weights:      auction.DefaultWeights(),
		avgSpeed:     defaultAvgSpeed,
		hoursPerTick: 1,
		fleet:        append([]domain.Carrier(nil), fleet...),
		warehouses:   map[string]domain.Warehouse{},
		keep:         defaultRecentDeals,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.Heartbeat == nil {
		cfg := heartbeat.DefaultConfig()
		cfg.SimHoursPerTick = m.hoursPerTick
		m.Heartbeat = heartbeat.New(w, cfg, heartbeat.WithSink(m.sink), heartbeat.WithClock(m.now))
	}
	if m.Negotiations == nil {
		m.Negotiations = negotiation.NewEngine(w,
			negotiation.WithReputation(ledger),
			negotiation.WithSink(m.sink),
			negotiation.WithClock(m.now),
			negotiation.WithAvgSpeed(m.avgSpeed))
	}
	if m.Auctions == nil {
		m.Auctions = auction.NewEngine(w,
			auction.WithReputation(ledger),
			auction.WithSink(m.sink),
			auction.WithClock(m.now),
			auction.WithAvgSpeed(m.avgSpeed))
	}
	for _, c := range w.Cities() {
		m.warehouses[c.Name] = domain.Warehouse{
			ID:               WarehouseID(c.Name),
			Location:         c.Name,
			UrgencyThreshold: heartbeat.DefaultConfig().InventoryThreshold,
		}
	}
	return m, nil
}

// WarehouseID names the warehouse of a city, e.g. "WH-SAN-ANTONIO".
func WarehouseID(city string) string {
	return "WH-" + strings.ToUpper(strings.Join(strings.Fields(city), "-"))
}

// Mode returns the matching mode.
func (m *Market) Mode() Mode { return m.mode }

// Fleet returns a copy of the carriers.
func (m *Market) Fleet() []domain.Carrier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Carrier(nil), m.fleet...)
}

// Warehouse returns the warehouse of a city.
func (m *Market) Warehouse(city string) (domain.Warehouse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.warehouses[city]
	return wh, ok
}

// Tick runs one market cycle: the world clock and traffic advance,
// shipments due this tick arrive, then the heartbeat raises orders and
// each order is matched. It returns the deals recorded this tick.
func (m *Market) Tick(ctx context.Context, tick uint64) []domain.Deal {
	wt := m.World.Tick()
	if m.traffic != nil {
		for _, change := range m.traffic.Apply(m.World, wt) {
			m.emit(telemetry.EventWorldUpdate, "traffic", change, nil)
		}
	}

	recorded := m.deliver(ctx, wt)
	for _, order := range m.Heartbeat.Tick(ctx) {
		if ctx.Err() != nil {
			break
		}
		if d, ok := m.Handle(ctx, order, wt); ok {
			recorded = append(recorded, d)
		}
	}
	slog.Debug("market tick", "tick", tick, "world_tick", wt, "recorded", len(recorded))
	return recorded
}

// Handle matches one order. A failed negotiation is recorded immediately
// and returned with ok true; a successful match goes into transit and
// returns ok false, as does an unfilled order.
func (m *Market) Handle(ctx context.Context, order domain.Order, tick uint64) (domain.Deal, bool) {
	m.mu.Lock()
	m.stats.OrdersHandled++
	m.mu.Unlock()

	wh, ok := m.Warehouse(order.Destination)
	if !ok {
		slog.Warn("no warehouse for destination", "order_id", order.ID, "destination", order.Destination)
		m.unfilled()
		return domain.Deal{}, false
	}

	if m.mode == ModeNegotiation {
		return m.negotiate(ctx, order, wh, tick)
	}
	m.auction(ctx, order, wh, tick)
	return domain.Deal{}, false
}

func (m *Market) auction(ctx context.Context, order domain.Order, wh domain.Warehouse, tick uint64) {
	a, err := m.Auctions.Run(ctx, order, wh.ID, m.Fleet(), m.weights)
	if err != nil {
		slog.Warn("auction failed", "order_id", order.ID, "error", err)
		m.unfilled()
		return
	}
	if !a.HasWinner() {
		m.unfilled()
		return
	}
	carrier, _ := m.carrier(a.WinnerID)
	deal := domain.Deal{
		ID:                uuid.NewString(),
		NegotiationID:     a.ID,
		WarehouseID:       wh.ID,
		CarrierID:         a.WinnerID,
		OrderID:           order.ID,
		AgreedPrice:       a.WinningBid.Price,
		NegotiationRounds: 1,
		Outcome:           domain.OutcomeSuccess,
		PromisedETA:       a.WinningBid.ETA,
		Route:             order.Origin + "-" + order.Destination,
		Distance:          a.Facts.Distance,
		Timestamp:         a.StartedAt,
	}
	m.dispatch(ctx, deal, order, carrier, tick)
}

func (m *Market) negotiate(ctx context.Context, order domain.Order, wh domain.Warehouse, tick uint64) (domain.Deal, bool) {
	carrier, ok := m.Nearest(order.Origin)
	if !ok {
		slog.Warn("no carrier can reach origin", "order_id", order.ID, "origin", order.Origin)
		m.unfilled()
		return domain.Deal{}, false
	}
	st, err := m.Negotiations.Run(ctx, order, wh, carrier)
	if err != nil {
		slog.Warn("negotiation failed to start", "order_id", order.ID, "error", err)
		m.unfilled()
		return domain.Deal{}, false
	}

	deal := st.Deal(uuid.NewString(), m.now())
	if deal.Outcome == domain.OutcomeSuccess {
		deal.CompletedAt = time.Time{}
		m.dispatch(ctx, deal, order, carrier, tick)
		return domain.Deal{}, false
	}

	m.mu.Lock()
	m.stats.Failed++
	m.mu.Unlock()
	m.record(ctx, deal, false)
	return deal, true
}

// Nearest returns the carrier with the shortest path from its home city to
// city. Ties go to the earlier carrier in the fleet; unreachable carriers
// are skipped.
func (m *Market) Nearest(city string) (domain.Carrier, bool) {
	var (
		best domain.Carrier
		dist = math.Inf(1)
	)
	for _, c := range m.Fleet() {
		d := 0.0
		if c.Location != city {
			p, err := m.World.ShortestPath(c.Location, city)
			if err != nil {
				continue
			}
			d = p.Distance
		}
		if d < dist {
			best, dist = c, d
		}
	}
	return best, !math.IsInf(dist, 1)
}

func (m *Market) carrier(id string) (domain.Carrier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.fleet {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Carrier{}, false
}

func (m *Market) unfilled() {
	m.mu.Lock()
	m.stats.Unfilled++
	m.mu.Unlock()
}

// dispatch writes a successful deal to history and puts it on the road.
// It arrives after the promised ETA, rounded up to whole ticks.
func (m *Market) dispatch(ctx context.Context, deal domain.Deal, order domain.Order, carrier domain.Carrier, tick uint64) {
	ticks := uint64(math.Ceil(deal.PromisedETA / m.hoursPerTick))
	s := Shipment{Deal: deal, Order: order, Carrier: carrier, DueTick: tick + max(1, ticks)}

	if err := m.Ledger.OpenDeal(ctx, deal); err != nil {
		slog.Warn("deal opened with errors", "deal_id", deal.ID, "error", err)
	}

	m.mu.Lock()
	m.transit = append(m.transit, s)
	m.stats.Dispatched++
	m.mu.Unlock()

	slog.Info("shipment dispatched", "deal_id", deal.ID, "carrier", deal.CarrierID,
		"route", deal.Route, "price", fmt.Sprintf("%.2f", deal.AgreedPrice), "due_tick", s.DueTick)
}

// deliver lands every shipment due at or before tick.
func (m *Market) deliver(ctx context.Context, tick uint64) []domain.Deal {
	m.mu.Lock()
	var due []Shipment
	kept := m.transit[:0]
	for _, s := range m.transit {
		if s.DueTick <= tick {
			due = append(due, s)
		} else {
			kept = append(kept, s)
		}
	}
	m.transit = kept
	m.mu.Unlock()

	deals := make([]domain.Deal, 0, len(due))
	for _, s := range due {
		deal := m.evaluate(s)
		units := int(s.Order.WeightKg / kgPerUnit)
		if _, err := m.Heartbeat.Replenish(s.Order.Destination, units); err != nil {
			slog.Warn("replenish failed", "deal_id", deal.ID, "error", err)
		}

		m.mu.Lock()
		m.stats.Delivered++
		if deal.OnTimeDelivery != nil && *deal.OnTimeDelivery {
			m.stats.OnTime++
		}
		m.mu.Unlock()

		m.record(ctx, deal, true)
		deals = append(deals, deal)
	}
	return deals
}

// evaluate times a delivery against the route as it is now. A shipment
// whose route has become unreachable is late.
func (m *Market) evaluate(s Shipment) domain.Deal {
	deal := s.Deal
	deal.CompletedAt = m.now()
	onTime := false
	facts, err := m.World.RouteFacts(s.Order.Origin, s.Order.Destination, m.avgSpeed)
	if err == nil {
		actual := facts.ETA * s.Carrier.Persona.Profile().ETAMultiplier
		deal.ActualETA = &actual
		onTime = actual <= deal.PromisedETA
	} else {
		slog.Debug("delivery route unavailable", "deal_id", deal.ID, "error", err)
	}
	deal.OnTimeDelivery = &onTime
	return deal
}

// record writes a deal through the ledger, keeps it in the recent ring and
// announces it. A delivered deal is already in history from dispatch. Ledger
// errors degrade persistence only.
func (m *Market) record(ctx context.Context, deal domain.Deal, delivered bool) {
	write := m.Ledger.RecordDeal
	if delivered {
		write = m.Ledger.RecordDelivery
	}
	if err := write(ctx, deal); err != nil {
		slog.Warn("deal recorded with errors", "deal_id", deal.ID, "error", err)
	}

	m.mu.Lock()
	m.recent = append(m.recent, deal)
	if len(m.recent) > m.keep {
		m.recent = m.recent[len(m.recent)-m.keep:]
	}
	m.mu.Unlock()

	data := map[string]any{
		"deal_id":  deal.ID,
		"outcome":  deal.Outcome,
		"price":    deal.AgreedPrice,
		"route":    deal.Route,
		"rounds":   deal.NegotiationRounds,
		"carrier":  deal.CarrierID,
		"order_id": deal.OrderID,
	}
	if deal.OnTimeDelivery != nil {
		data["on_time"] = *deal.OnTimeDelivery
	}
	m.emit(telemetry.EventDealRecorded, deal.WarehouseID,
		fmt.Sprintf("deal %s %s on %s at $%.2f", deal.ID, deal.Outcome, deal.Route, deal.AgreedPrice), data)
}

// RecentDeals returns up to limit recorded deals, newest first.
func (m *Market) RecentDeals(limit int) []domain.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Deal, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// RestoreTransit puts shipments saved by an earlier run back on the road.
// Shipments already in transit are skipped. It returns how many were added.
func (m *Market) RestoreTransit(shipments []Shipment) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(m.transit))
	for _, s := range m.transit {
		seen[s.Deal.ID] = true
	}
	n := 0
	for _, s := range shipments {
		if seen[s.Deal.ID] {
			continue
		}
		seen[s.Deal.ID] = true
		m.transit = append(m.transit, s)
		n++
	}
	return n
}

// InTransit returns the shipments still on the road, earliest due first.
func (m *Market) InTransit() []Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Shipment(nil), m.transit...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueTick < out[j].DueTick })
	return out
}

// ApplyChaos runs one disruption pass if chaos is enabled.
func (m *Market) ApplyChaos() []string {
	if m.chaos == nil {
		return nil
	}
	changes := m.chaos.Apply(m.World)
	for _, c := range changes {
		m.emit(telemetry.EventWorldUpdate, "chaos", c, nil)
	}
	return changes
}

// Summary reports the market's counters.
func (m *Market) Summary() Summary {
	tick := m.World.TickCount()
	m.mu.Lock()
	s := Summary{
		Tick:           tick,
		SimTime:        SimTime(tick),
		Mode:           m.mode,
		Stats:          m.stats,
		InTransit:      len(m.transit),
		Carriers:       len(m.fleet),
		TrafficEnabled: m.traffic != nil,
	}
	m.mu.Unlock()
	if m.chaos != nil {
		s.ChaosLevel = m.chaos.Level()
	}
	s.StoreFailures = m.Ledger.Failures()
	s.Heartbeat = m.Heartbeat.Stats()
	return s
}

func (m *Market) emit(t telemetry.EventType, actor, msg string, data map[string]any) {
	m.sink.Emit(telemetry.Event{
		Type:    t,
		Tick:    m.World.TickCount(),
		Actor:   actor,
		Message: msg,
		Data:    data,
		At:      m.now(),
	})
}
