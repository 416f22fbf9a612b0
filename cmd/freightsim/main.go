// Command freightsim runs the freight negotiation market: a simulated
// Texas road network where warehouses buy trucking from carriers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/api"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auditor"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/config"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/engine"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/entropy"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/heartbeat"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/llm"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/negotiation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/persistence"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/weather"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// transitKey holds the shipments on the road at the last save.
const transitKey = "transit"

func main() {
	// Missing .env is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("FREIGHTSIM_CONFIG"), "config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := run(cfg); err != nil {
		slog.Error("freightsim stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("freightsim starting", "mode", cfg.Auction.Mode, "store", cfg.Store.Driver)

	w, fleet, err := buildWorld(cfg.World)
	if err != nil {
		return err
	}

	var (
		store reputation.Store
		db    *persistence.DB
	)
	switch cfg.Store.Driver {
	case "memory":
		store = reputation.NewMemoryStore()
	default:
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err = persistence.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
		slog.Info("database opened", "path", cfg.Store.Path)

		snap, ok, err := db.LoadWorldSnapshot()
		switch {
		case err != nil:
			slog.Warn("saved world unreadable, starting fresh", "error", err)
		case ok:
			n := w.Restore(snap)
			slog.Info("world state restored", "records", n, "tick", snap.Tick, "sim_time", engine.SimTime(snap.Tick))
		default:
			slog.Info("no saved state found, starting a new market")
		}
	}

	// Telemetry fans out to the log, the API's recorder, the database and
	// Redis when each is available.
	rec := telemetry.NewRecorder(1000)
	sinks := telemetry.Multi{telemetry.LogSink{}, rec}
	var eventLog *persistence.EventLog
	if db != nil {
		eventLog = db.EventLog()
		sinks = append(sinks, eventLog)
	}
	if cfg.Redis.Enabled {
		rs, err := telemetry.NewRedisSink(ctx, telemetry.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			slog.Warn("redis unavailable, events stay local", "error", err)
		} else {
			defer rs.Close()
			sinks = append(sinks, rs)
			slog.Info("redis sink enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
		}
	}

	ledger := reputation.NewLedger(store)

	negOpts := []negotiation.Option{
		negotiation.WithReputation(ledger),
		negotiation.WithSink(sinks),
		negotiation.WithMaxRounds(cfg.Negotiation.MaxRounds),
		negotiation.WithAvgSpeed(cfg.World.AvgSpeed),
	}
	audOpts := []auditor.Option{auditor.WithWorld(w)}
	var client *llm.Client
	if cfg.LLM.Enabled {
		client = llm.NewClient(cfg.LLM.APIKey).WithModel(cfg.LLM.Model)
		negOpts = append(negOpts, negotiation.WithSource(llm.NewNegotiator(client)))
		audOpts = append(audOpts, auditor.WithNarrator(llm.NewBriefingWriter(client)))
		slog.Info("LLM client enabled")
	} else {
		slog.Info("LLM disabled, negotiators follow their rules")
	}

	mktOpts := []engine.MarketOption{
		engine.WithMode(engine.Mode(cfg.Auction.Mode)),
		engine.WithWeights(cfg.Auction.Weights),
		engine.WithMarketSink(sinks),
		engine.WithHeartbeat(heartbeat.New(w, cfg.Heartbeat.Config, heartbeat.WithSink(sinks))),
		engine.WithNegotiations(negotiation.NewEngine(w, negOpts...)),
		engine.WithHoursPerTick(cfg.Heartbeat.SimHoursPerTick),
		engine.WithMarketAvgSpeed(cfg.World.AvgSpeed),
	}
	if cfg.World.TrafficNoise > 0 {
		mktOpts = append(mktOpts, engine.WithTraffic(world.NewTrafficField(cfg.World.Seed, cfg.World.TrafficNoise)))
	}
	if cfg.World.ChaosLevel > 0 {
		src := entropy.Choose(cfg.Entropy.APIKey, cfg.Entropy.Seed)
		mktOpts = append(mktOpts, engine.WithChaos(world.NewChaos(cfg.World.ChaosLevel, src)))
	}
	market, err := engine.NewMarket(w, ledger, fleet, mktOpts...)
	if err != nil {
		return err
	}
	aud := auditor.New(store, audOpts...)

	if db != nil {
		var saved []engine.Shipment
		ok, err := db.LoadJSON(transitKey, &saved)
		switch {
		case err != nil:
			slog.Warn("saved shipments unreadable", "error", err)
		case ok:
			slog.Info("shipments restored", "in_transit", market.RestoreTransit(saved))
		}
	}

	saveSnapshot := func() error {
		if db == nil {
			return nil
		}
		if eventLog != nil {
			if err := eventLog.Flush(); err != nil {
				slog.Warn("event flush failed", "error", err)
			}
		}
		if err := db.SaveJSON(transitKey, market.InTransit()); err != nil {
			return err
		}
		return db.SaveWorldSnapshot(w.Snapshot())
	}

	eng := engine.NewEngine()
	eng.Interval = cfg.Heartbeat.Interval
	eng.SetTick(w.TickCount())
	eng.OnTick = func(ctx context.Context, tick uint64) {
		market.Tick(ctx, tick)
	}
	eng.OnDay = func(ctx context.Context, tick uint64) {
		s := market.Summary()
		slog.Info("daily report",
			"tick", tick,
			"time", engine.SimTime(tick),
			"orders", s.Stats.OrdersHandled,
			"delivered", s.Stats.Delivered,
			"on_time", s.Stats.OnTime,
			"failed", s.Stats.Failed,
			"unfilled", s.Stats.Unfilled,
			"in_transit", s.InTransit,
			"store_failures", s.StoreFailures,
		)
		for purpose, u := range client.Usage() {
			slog.Info("llm usage", "purpose", purpose, "calls", u.Calls, "failures", u.Failures,
				"input_tokens", u.InputTokens, "output_tokens", u.OutputTokens)
		}
		if err := saveSnapshot(); err != nil {
			slog.Error("daily save failed", "error", err)
		}
	}

	sched, err := schedule(ctx, cfg, market, aud, sinks, eventLog)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	var server *api.Server
	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("FREIGHTSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		server = &api.Server{
			Market:       market,
			Eng:          eng,
			Auditor:      aud,
			Events:       rec,
			Store:        store,
			Port:         cfg.API.Port,
			AdminKey:     cfg.API.AdminKey,
			ReportLimit:  cfg.API.ReportLimit,
			ReportWindow: cfg.Auditor.RecentDeals,
		}
		if db != nil {
			server.Snapshot = saveSnapshot
		}
	}

	sinks.Emit(telemetry.Event{
		Type:    telemetry.EventSystem,
		Tick:    w.TickCount(),
		Message: fmt.Sprintf("market open with %d cities and %d carriers", len(w.Cities()), len(fleet)),
		At:      time.Now(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	if server != nil {
		g.Go(func() error { return server.Start(gctx) })
	}
	err = g.Wait()

	slog.Info("shutting down", "tick", eng.Tick())
	if serr := saveSnapshot(); serr != nil {
		slog.Error("final save failed", "error", serr)
	}
	return err
}

// buildWorld loads the scenario file or falls back to the Texas network
// and default fleet.
func buildWorld(c config.WorldConfig) (*world.World, []domain.Carrier, error) {
	if c.Scenario == "" {
		slog.Info("using built-in Texas network")
		return world.NewTexas(), domain.DefaultFleet(), nil
	}
	s, err := world.LoadScenario(c.Scenario)
	if err != nil {
		return nil, nil, err
	}
	w, err := s.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build scenario: %w", err)
	}
	fleet := s.Carriers
	if len(fleet) == 0 {
		fleet = domain.DefaultFleet()
	}
	slog.Info("scenario loaded", "path", c.Scenario, "cities", len(s.Cities), "routes", len(s.Routes), "carriers", len(fleet))
	return w, fleet, nil
}

// schedule registers the wall-clock jobs: market reports, live weather,
// chaos passes and event flushing.
func schedule(ctx context.Context, cfg *config.Config, market *engine.Market, aud *auditor.Auditor,
	sink telemetry.Sink, eventLog *persistence.EventLog) (*cron.Cron, error) {
	c := cron.New()

	if cfg.Auditor.Schedule != "" {
		if _, err := c.AddFunc(cfg.Auditor.Schedule, func() {
			rep, err := aud.Report(ctx, cfg.Auditor.RecentDeals)
			if err != nil {
				slog.Warn("market report failed", "error", err)
				return
			}
			slog.Info("market report", "health", rep.Health, "deals", rep.TotalDeals,
				"success_rate", fmt.Sprintf("%.2f", rep.SuccessRate))
			slog.Info(aud.Narrative(ctx, rep))
		}); err != nil {
			return nil, fmt.Errorf("auditor.schedule: %w", err)
		}
	}

	if wc := weather.NewClient(cfg.Weather.APIKey); wc.Enabled() && cfg.Weather.Schedule != "" {
		refresh := func() {
			for _, change := range wc.Refresh(ctx, market.World) {
				sink.Emit(telemetry.Event{
					Type:    telemetry.EventWorldUpdate,
					Tick:    market.World.TickCount(),
					Actor:   "weather",
					Message: change,
					At:      time.Now(),
				})
			}
		}
		if _, err := c.AddFunc(cfg.Weather.Schedule, refresh); err != nil {
			return nil, fmt.Errorf("weather.schedule: %w", err)
		}
		slog.Info("live weather enabled", "schedule", cfg.Weather.Schedule)
	}

	if cfg.World.ChaosLevel > 0 && cfg.World.ChaosEvery != "" {
		if _, err := c.AddFunc(cfg.World.ChaosEvery, func() {
			if changes := market.ApplyChaos(); len(changes) > 0 {
				slog.Info("market disrupted", "changes", strings.Join(changes, "; "))
			}
		}); err != nil {
			return nil, fmt.Errorf("world.chaos_schedule: %w", err)
		}
	}

	if eventLog != nil {
		if _, err := c.AddFunc("@every 1m", func() {
			if err := eventLog.Flush(); err != nil {
				slog.Warn("event flush failed", "error", err)
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}
