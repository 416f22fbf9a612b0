package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/negotiation"
)

// Negotiator asks the model for a warehouse or carrier move. The engine
// checks every proposal and falls back to its rules when one is unusable.
type Negotiator struct {
	client *Client
}

// NewNegotiator returns a decision source backed by client.
func NewNegotiator(client *Client) *Negotiator {
	return &Negotiator{client: client}
}

// Propose implements negotiation.DecisionSource.
func (n *Negotiator) Propose(ctx context.Context, t negotiation.Turn) (negotiation.Decision, error) {
	if n == nil || !n.client.Enabled() {
		return negotiation.Decision{}, ErrDisabled
	}
	var d negotiation.Decision
	err := n.client.CompleteJSON(ctx, Call{
		Purpose:     PurposeNegotiation,
		System:      systemPrompt(t),
		Prompt:      turnPrompt(t),
		MaxTokens:   400,
		Temperature: 0.2,
	}, &d)
	if err != nil {
		return negotiation.Decision{}, fmt.Errorf("negotiation decision: %w", err)
	}
	return checkStatus(d, t.Incoming == nil)
}

func systemPrompt(t negotiation.Turn) string {
	if t.Role == domain.AgentCarrier {
		c := t.Carrier
		p := c.Persona.Profile()
		costs := t.CarrierCosts()
		return fmt.Sprintf(`You are the freight sales agent for %s (%s), a trucking carrier with %d trucks based in %s.
Your service style: %s.
Your fuel cost on this lane is $%.2f. Never agree below $%.2f, and aim for about $%.2f.

Respond ONLY with a JSON object:
{"status": "ACCEPTED" | "REJECTED" | "COUNTER_OFFER", "offer_price": number, "eta_estimate": hours, "reasoning": "one or two sentences", "confidence": 0-1}`,
			c.CompanyName, c.ID, c.FleetSize, c.Location, p.Pitch, costs.FuelCost, costs.MinimumPrice, costs.TargetPrice)
	}
	return fmt.Sprintf(`You are the logistics buyer for warehouse %s in %s. You negotiate shipping prices with carriers.
Your hard budget for this order is $%.2f. Never offer or accept more than that.
A fair price on this lane is between $%.2f and $%.2f.

Respond ONLY with a JSON object:
{"status": "ACCEPTED" | "REJECTED" | "COUNTER_OFFER", "offer_price": number, "eta_estimate": hours, "reasoning": "one or two sentences", "confidence": 0-1}`,
		t.Warehouse.ID, t.Warehouse.Location, t.Order.MaxBudget, t.Fair.Min, t.Fair.Max)
}

func turnPrompt(t negotiation.Turn) string {
	var b strings.Builder
	o := t.Order
	fmt.Fprintf(&b, "ORDER %s: %s to %s, %.0f kg, %.1f m3, priority %s, deadline %.0fh.\n",
		o.ID, o.Origin, o.Destination, o.WeightKg, o.VolumeM3, o.Priority, o.DeadlineHours)
	fmt.Fprintf(&b, "ROUTE: %.0f miles via %s, fuel x%.2f, weather %s, estimated %.1fh.\n",
		t.Facts.Distance, strings.Join(t.Facts.Path, " > "), t.Facts.FuelMultiplier, t.Facts.Weather, t.Facts.ETA)
	fmt.Fprintf(&b, "ROUND %d of %d.\n", t.Round, t.MaxRounds)
	fmt.Fprintf(&b, "PARTNER: %s\n\n", t.Partner.Summary)

	if len(t.History) > 0 {
		b.WriteString("OFFERS SO FAR:\n")
		for _, h := range t.History {
			fmt.Fprintf(&b, "- round %d, %s: $%.2f, ETA %.1fh (%s)\n", h.Round, strings.ToLower(string(h.SenderType)), h.Price, h.ETA, h.Reasoning)
		}
		b.WriteString("\n")
	}

	if t.Incoming == nil {
		b.WriteString("Make your opening offer. Use status COUNTER_OFFER.")
		return b.String()
	}
	fmt.Fprintf(&b, "The other side offers $%.2f with ETA %.1fh. Accept, reject or counter.", t.Incoming.Price, t.Incoming.ETA)
	return b.String()
}

// checkStatus maps the model's status onto the protocol. An opening offer
// is always PENDING.
func checkStatus(d negotiation.Decision, opening bool) (negotiation.Decision, error) {
	status, ok := normalizeStatus(string(d.Status))
	if !ok {
		return negotiation.Decision{}, fmt.Errorf("unknown status %q", d.Status)
	}
	d.Status = status
	if opening {
		d.Status = domain.StatusPending
	}
	return d, nil
}

func normalizeStatus(s string) (domain.Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPTED", "ACCEPT":
		return domain.StatusAccepted, true
	case "REJECTED", "REJECT":
		return domain.StatusRejected, true
	case "COUNTER_OFFER", "COUNTER", "COUNTEROFFER", "PENDING":
		return domain.StatusCounterOffer, true
	}
	return "", false
}
