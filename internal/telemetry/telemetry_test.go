package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsNewestFirst(t *testing.T) {
	r := NewRecorder(3)
	for i, msg := range []string{"a", "b", "c", "d"} {
		r.Emit(Event{Type: EventOffer, Tick: uint64(i), Message: msg})
	}

	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].Message)
	assert.Equal(t, "b", got[2].Message)
	assert.False(t, got[0].At.IsZero())

	assert.Len(t, r.Recent(2), 2)
	assert.Empty(t, NewRecorder(5).Recent(10))
}

func TestRecorderFilter(t *testing.T) {
	r := NewRecorder(10)
	r.Emit(Event{Type: EventOffer, Message: "bid"})
	r.Emit(Event{Type: EventWorldUpdate, Message: "storm"})
	r.Emit(Event{Type: EventOffer, Message: "counter"})

	offers := r.Filter(EventOffer)
	require.Len(t, offers, 2)
	assert.Equal(t, "counter", offers[0].Message)
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a, b := NewRecorder(4), NewRecorder(4)
	Multi{a, nil, b}.Emit(Event{Type: EventSystem, Message: "hello"})

	assert.Len(t, a.Recent(0), 1)
	assert.Len(t, b.Recent(0), 1)
	assert.Equal(t, a.Recent(0)[0].At, b.Recent(0)[0].At)

	OrNop(nil).Emit(Event{})
}

func TestRedisPayload(t *testing.T) {
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	payload, err := encodeEvent(Event{
		Type:    EventAuctionComplete,
		Actor:   "WH-Houston",
		Message: "winner CR-BUDGET-001",
		Data:    map[string]any{"price": 446.25},
		At:      at,
	})
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(payload, &back))
	assert.Equal(t, "auction_complete", back["type"])
	assert.Equal(t, 446.25, back["data"].(map[string]any)["price"])

	args := streamArgs("freight:events", EventAuctionComplete, payload)
	assert.Equal(t, "freight:events", args.Stream)
	assert.True(t, args.Approx)
	assert.Equal(t, streamMaxLen, args.MaxLen)
	assert.Equal(t, "auction_complete", args.Values.(map[string]interface{})["type"])
}
