package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/negotiation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

func TestNilClientIsDisabled(t *testing.T) {
	var c *Client
	assert.False(t, c.Enabled())
	assert.Nil(t, NewClient(""))

	_, err := c.Complete(context.Background(), "s", "u", 10)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewNegotiator(nil).Propose(context.Background(), negotiation.Turn{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewBriefingWriter(nil).Narrate(context.Background(), "facts")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestExtractJSONAndStatus(t *testing.T) {
	obj, ok := extractJSON(`Sure. {"status": "counter", "offer_price": 612.5} Thanks`)
	require.True(t, ok)
	assert.Equal(t, `{"status": "counter", "offer_price": 612.5}`, obj)
	_, ok = extractJSON("no json here")
	assert.False(t, ok)
	_, ok = extractJSON("} backwards {")
	assert.False(t, ok)

	d, err := checkStatus(negotiation.Decision{Status: "counter", Price: 612.5}, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCounterOffer, d.Status)
	assert.InDelta(t, 612.5, d.Price, 1e-9)

	d, err = checkStatus(negotiation.Decision{Status: "COUNTER_OFFER", Price: 500}, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, d.Status)

	d, err = checkStatus(negotiation.Decision{Status: "accept"}, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, d.Status)

	_, err = checkStatus(negotiation.Decision{Status: "MAYBE"}, false)
	assert.Error(t, err)
}

func TestPromptsCarryPrivateFigures(t *testing.T) {
	w := world.NewTexas()
	facts, err := w.RouteFacts("Corpus Christi", "Houston", 0)
	require.NoError(t, err)
	fair, err := w.FairPriceRange("Corpus Christi", "Houston", 500)
	require.NoError(t, err)

	turn := negotiation.Turn{
		Role:      domain.AgentWarehouse,
		Order:     domain.Order{ID: "ORD-1", Origin: "Corpus Christi", Destination: "Houston", WeightKg: 500, MaxBudget: 800},
		Facts:     facts,
		Fair:      fair,
		Round:     1,
		MaxRounds: 5,
		Warehouse: domain.Warehouse{ID: "WH-CC", Location: "Corpus Christi"},
		Carrier:   domain.DefaultFleet()[0],
	}
	assert.Contains(t, systemPrompt(turn), "$800.00")
	assert.Contains(t, turnPrompt(turn), "opening offer")

	turn.Role = domain.AgentCarrier
	turn.Incoming = &domain.Offer{Price: 560, ETA: 3.8}
	assert.Contains(t, systemPrompt(turn), "SwiftLogistics")
	assert.NotContains(t, systemPrompt(turn), "$800.00")
	assert.Contains(t, turnPrompt(turn), "$560.00")
}

// replyServer answers every call with text and records the last request.
func replyServer(t *testing.T, text string, got *request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		body, err := json.Marshal(map[string]any{
			"content": []map[string]string{{"text": text}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
		assert.NoError(t, err)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNegotiatorPrefillsJSONReply(t *testing.T) {
	var got request
	srv := replyServer(t, `"status":"ACCEPTED","offer_price":560,"eta_estimate":3.8,"reasoning":"fine","confidence":0.9}`, &got)

	c := NewClient("test-key").WithModel("test-model")
	c.endpoint = srv.URL

	turn := negotiation.Turn{
		Role:      domain.AgentCarrier,
		Order:     domain.Order{ID: "ORD-1", Origin: "A", Destination: "B", MaxBudget: 800},
		Round:     1,
		MaxRounds: 5,
		Incoming:  &domain.Offer{Price: 560},
		Carrier:   domain.DefaultFleet()[2],
	}
	d, err := NewNegotiator(c).Propose(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, d.Status)
	assert.InDelta(t, 3.8, d.ETA, 1e-9)
	assert.Equal(t, "fine", d.Reasoning)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 400, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, Message{Role: "assistant", Content: "{"}, got.Messages[1])

	u := c.Usage()[PurposeNegotiation]
	assert.Equal(t, Usage{Calls: 1, InputTokens: 10, OutputTokens: 5}, u)
}

func TestBriefingIsPlainText(t *testing.T) {
	var got request
	srv := replyServer(t, "Lanes are calm.", &got)

	c := NewClient("test-key")
	c.endpoint = srv.URL

	text, err := NewBriefingWriter(c).Narrate(context.Background(), "deals: 4")
	require.NoError(t, err)
	assert.Equal(t, "Lanes are calm.", text)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "deals: 4")
	assert.Equal(t, briefingSystem, got.System)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.Equal(t, 1, c.Usage()[PurposeBriefing].Calls)
	assert.Zero(t, c.Usage()[PurposeNegotiation].Calls)
}

func TestCompleteJSONWithoutObject(t *testing.T) {
	var got request
	srv := replyServer(t, "I would rather not say.", &got)

	c := NewClient("test-key")
	c.endpoint = srv.URL

	var v map[string]any
	err := c.CompleteJSON(context.Background(), Call{Purpose: PurposeNegotiation, Prompt: "p", MaxTokens: 10, Prefill: "Answer:"}, &v)
	assert.ErrorIs(t, err, ErrNoJSON)
	assert.Equal(t, "Answer:", got.Messages[1].Content)

	_, err = NewNegotiator(c).Propose(context.Background(), negotiation.Turn{Role: domain.AgentWarehouse})
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestNegotiationsKeepAShareOfTheRateBudget(t *testing.T) {
	var got request
	srv := replyServer(t, `"ok":true}`, &got)

	c := NewClient("test-key")
	c.endpoint = srv.URL
	c.maxPerMin = 4

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Send(ctx, Call{Purpose: PurposeBriefing, Prompt: "p", MaxTokens: 10})
		require.NoError(t, err)
	}
	_, err := c.Send(ctx, Call{Purpose: PurposeBriefing, Prompt: "p", MaxTokens: 10})
	assert.ErrorIs(t, err, ErrRateLimited)

	var v struct{ OK bool }
	require.NoError(t, c.CompleteJSON(ctx, Call{Purpose: PurposeNegotiation, Prompt: "p", MaxTokens: 10}, &v))
	assert.True(t, v.OK)

	err = c.CompleteJSON(ctx, Call{Purpose: PurposeNegotiation, Prompt: "p", MaxTokens: 10}, &v)
	assert.ErrorIs(t, err, ErrRateLimited)

	usage := c.Usage()
	assert.Equal(t, 3, usage[PurposeBriefing].Calls)
	assert.Equal(t, 1, usage[PurposeNegotiation].Calls)
}

func TestCompleteReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("k")
	c.endpoint = srv.URL
	_, err := c.Complete(context.Background(), "s", "u", 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "overloaded", apiErr.Body)
	assert.Equal(t, Usage{Calls: 1, Failures: 1}, c.Usage()[PurposeGeneral])

	c.maxPerMin = 1
	c.callCount = 1
	_, err = c.Complete(context.Background(), "s", "u", 10)
	assert.ErrorIs(t, err, ErrRateLimited)
}
