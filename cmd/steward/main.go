// Command steward runs the autonomous market steward for freightsim.
// It observes the market, decides on interventions (by rule, or via
// Claude when a key is set), and acts via the admin intervention API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/config"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/llm"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/steward"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	configPath := flag.String("config", os.Getenv("FREIGHTSIM_CONFIG"), "config file (yaml, toml or json)")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.API.AdminKey == "" {
		slog.Error("FREIGHTSIM_ADMIN_KEY is required")
		os.Exit(1)
	}

	var model steward.Completer
	if client := llm.NewClient(cfg.LLM.APIKey).WithModel(cfg.LLM.Model); client.Enabled() {
		model = client
		slog.Info("steward decisions via Claude")
	} else {
		slog.Info("ANTHROPIC_API_KEY not set, steward follows its rules")
	}

	if dir := filepath.Dir(cfg.Steward.MemoryFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create memory dir", "error", err)
			os.Exit(1)
		}
	}
	st := steward.New(cfg.Steward.APIURL, cfg.API.AdminKey, model, steward.LoadMemory(cfg.Steward.MemoryFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("freightsim steward starting",
		"api_url", cfg.Steward.APIURL,
		"interval", cfg.Steward.Interval,
	)

	// Wait for the market API before the first cycle.
	slog.Info("waiting for market API...")
	if err := waitForAPI(ctx, st.Observer); err != nil {
		slog.Error("market API unavailable", "error", err)
		os.Exit(1)
	}

	// Run first cycle immediately.
	runCycle(ctx, st)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.Steward.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, st)
		case <-ctx.Done():
			slog.Info("shutting down")
			fmt.Println("Steward stopped.")
			return
		}
	}
}

func runCycle(ctx context.Context, st *steward.Steward) {
	slog.Info("steward cycle starting")
	d, err := st.RunCycle(ctx)
	if err != nil {
		slog.Error("steward cycle failed", "error", err)
		return
	}
	if d.Intervention == nil {
		slog.Info("steward cycle complete, no intervention")
	}
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds, giving up after 5 minutes.
func waitForAPI(ctx context.Context, o *steward.Observer) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		if o.Ready(ctx) {
			slog.Info("market API is ready")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no response from %s within 5 minutes", o.BaseURL)
		}
		slog.Info("market not ready, retrying...", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
