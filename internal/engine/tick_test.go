package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepCallbacks(t *testing.T) {
	e := NewEngine()
	var ticks, days, weeks int
	e.OnTick = func(context.Context, uint64) { ticks++ }
	e.OnDay = func(context.Context, uint64) { days++ }
	e.OnWeek = func(context.Context, uint64) { weeks++ }

	for i := 0; i < TicksPerSimWeek; i++ {
		e.Step(context.Background())
	}
	assert.Equal(t, TicksPerSimWeek, ticks)
	assert.Equal(t, 7, days)
	assert.Equal(t, 1, weeks)
	assert.Equal(t, uint64(TicksPerSimWeek), e.Tick())
}

func TestSetTickResumes(t *testing.T) {
	e := NewEngine()
	e.SetTick(23)
	var day uint64
	e.OnDay = func(_ context.Context, tick uint64) { day = tick }
	e.Step(context.Background())
	assert.Equal(t, uint64(24), day)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Millisecond
	var n atomic.Int64
	e.OnTick = func(context.Context, uint64) { n.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, e.Running())
	assert.Error(t, e.Run(ctx))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, e.Running())
}

func TestStopAndPause(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Millisecond
	e.SetSpeed(0)
	assert.Equal(t, 0.0, e.Speed())
	e.SetSpeed(-3)
	assert.Equal(t, 0.0, e.Speed())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	require.Eventually(t, e.Running, time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), e.Tick())

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestSimTime(t *testing.T) {
	assert.Equal(t, "Week 1 Day 1, 00:00", SimTime(0))
	assert.Equal(t, "Week 1 Day 2, 05:00", SimTime(29))
	assert.Equal(t, "Week 2 Day 8, 00:00", SimTime(TicksPerSimWeek))
}
