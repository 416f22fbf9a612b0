package llm

import (
	"context"
	"fmt"
)

const briefingSystem = `You are the market analyst for a regional freight exchange in Texas. Warehouses buy trucking capacity from carriers through negotiations and sealed-bid auctions.

Write a short daily briefing for dispatchers from the figures you are given: how healthy the market is, which lanes are expensive, which carriers stand out and what to watch tomorrow. Use plain business prose, no more than 300 words, and do not invent figures.`

// BriefingWriter turns audit figures into a daily briefing.
type BriefingWriter struct {
	client *Client
}

// NewBriefingWriter returns a writer backed by client.
func NewBriefingWriter(client *Client) *BriefingWriter {
	return &BriefingWriter{client: client}
}

// Narrate writes prose from a block of report facts.
func (w *BriefingWriter) Narrate(ctx context.Context, facts string) (string, error) {
	if w == nil || !w.client.Enabled() {
		return "", ErrDisabled
	}
	prompt := fmt.Sprintf("Write today's market briefing from these figures.\n\n%s", facts)
	return w.client.Send(ctx, Call{
		Purpose:     PurposeBriefing,
		System:      briefingSystem,
		Prompt:      prompt,
		MaxTokens:   700,
		Temperature: 0.7,
	})
}
