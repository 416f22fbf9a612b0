// Package engine provides the tick loop and the Market that closes the
// demand, deal, delivery and reputation cycle on every tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// One tick is one sim-hour by default.
const (
	TicksPerSimDay  = 24
	TicksPerSimWeek = 7 * TicksPerSimDay
)

// Engine drives the simulation forward.
type Engine struct {
	Interval time.Duration // Base tick interval (default 1 second)

	mu      sync.Mutex
	tick    uint64
	speed   float64 // 1.0 = real-time, 0 = paused
	running bool
	stop    chan struct{}

	// Callbacks for each tick layer, populated during setup.
	OnTick func(ctx context.Context, tick uint64) // Every tick
	OnDay  func(ctx context.Context, tick uint64) // Every 24 ticks
	OnWeek func(ctx context.Context, tick uint64) // Every 168 ticks
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
	}
}

// Tick returns the number of ticks run so far.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick resumes counting from a saved tick.
func (e *Engine) SetTick(t uint64) {
	e.mu.Lock()
	e.tick = t
	e.mu.Unlock()
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; zero or less pauses.
func (e *Engine) SetSpeed(s float64) {
	e.mu.Lock()
	e.speed = max(0, s)
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the simulation loop. Blocks until ctx is done or Stop is
// called.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())
	for {
		wait := 100 * time.Millisecond // Paused: check again shortly.
		if speed := e.Speed(); speed > 0 {
			start := time.Now()
			e.Step(ctx)
			// Sleep for the remainder of the tick interval, adjusted for speed.
			wait = max(0, time.Duration(float64(e.Interval)/speed)-time.Since(start))
		}

		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return nil
		case <-stop:
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return nil
		case <-time.After(wait):
		}
	}
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Step advances the simulation by one tick.
func (e *Engine) Step(ctx context.Context) {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(ctx, tick)
	}
	if tick%TicksPerSimDay == 0 && e.OnDay != nil {
		e.OnDay(ctx, tick)
	}
	if tick%TicksPerSimWeek == 0 && e.OnWeek != nil {
		e.OnWeek(ctx, tick)
	}
}

// SimTime returns a human-readable simulation time from a tick number.
func SimTime(tick uint64) string {
	day := tick/TicksPerSimDay + 1
	hour := tick % TicksPerSimDay
	week := (day-1)/7 + 1
	return fmt.Sprintf("Week %d Day %d, %02d:00", week, day, hour)
}
