package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
)

// Narrative writes the report as prose. The narrator is used when set;
// without one, or when it fails, the plain briefing is returned.
func (a *Auditor) Narrative(ctx context.Context, r *Report) string {
	if a.narrator != nil {
		text, err := a.narrator.Narrate(ctx, Facts(r))
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		slog.Debug("narrator failed, using plain briefing", "report_id", r.ID, "error", err)
	}
	return Briefing(r)
}

func money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// Facts lists the report figures for a narrator prompt.
func Facts(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MARKET HEALTH: %s\n", r.Health)
	fmt.Fprintf(&b, "DEALS: %d in window (%d successful, %d failed, %d cancelled)\n",
		r.TotalDeals, r.Successful, r.Failed, r.Cancelled)
	fmt.Fprintf(&b, "SUCCESS RATE: %.0f%%\n", r.SuccessRate*100)
	fmt.Fprintf(&b, "AVERAGE PRICE: %s\n", money(r.AvgPrice))
	fmt.Fprintf(&b, "AVERAGE ROUNDS: %.1f\n", r.AvgRounds)
	if r.Delivered > 0 {
		fmt.Fprintf(&b, "ON TIME: %.0f%% of %d deliveries\n", r.OnTimeRate*100, r.Delivered)
	}
	if len(r.Lanes) > 0 {
		b.WriteString("\nLANES:\n")
		for _, l := range r.Lanes {
			fmt.Fprintf(&b, "- %s: %d deals, avg %s ($%.2f/mile)\n", l.Route, l.Deals, money(l.AvgPrice), l.AvgPricePerMile)
		}
	}
	if len(r.TopCarriers) > 0 {
		b.WriteString("\nTOP CARRIERS:\n")
		for _, c := range r.TopCarriers {
			fmt.Fprintf(&b, "- %s: overall %.2f, reliability %.2f, %d deals\n", c.AgentID, c.OverallScore, c.ReliabilityScore, c.TotalDeals)
		}
	}
	if len(r.Insights) > 0 {
		b.WriteString("\nOBSERVATIONS:\n")
		for _, in := range r.Insights {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}
	return b.String()
}

// Briefing is the plain-text daily briefing.
func Briefing(r *Report) string {
	var b strings.Builder

	b.WriteString("FREIGHT MARKET DAILY BRIEFING\n")
	b.WriteString("=============================\n")
	fmt.Fprintf(&b, "Report %s, %s\n\n", r.ID, r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	fmt.Fprintf(&b, "MARKET HEALTH: %s\n\n", r.Health)

	b.WriteString("ACTIVITY\n")
	if r.TotalDeals == 0 {
		b.WriteString("No deals have been recorded yet.\n\n")
	} else {
		fmt.Fprintf(&b, "%s deals analysed: %s closed, %s failed, %s cancelled (%.0f%% success).\n",
			humanize.Comma(int64(r.TotalDeals)), humanize.Comma(int64(r.Successful)),
			humanize.Comma(int64(r.Failed)), humanize.Comma(int64(r.Cancelled)), r.SuccessRate*100)
		fmt.Fprintf(&b, "Average agreed price %s after %.1f rounds.\n", money(r.AvgPrice), r.AvgRounds)
		if r.Delivered > 0 {
			fmt.Fprintf(&b, "%.0f%% of %s deliveries arrived on time.\n", r.OnTimeRate*100, humanize.Comma(int64(r.Delivered)))
		}
		if !r.LastDealAt.IsZero() {
			fmt.Fprintf(&b, "Last deal closed %s.\n", humanize.RelTime(r.LastDealAt, r.GeneratedAt, "ago", "from now"))
		}
		b.WriteString("\n")
	}

	if len(r.Lanes) > 0 {
		b.WriteString("LANES\n")
		for _, l := range r.Lanes {
			fmt.Fprintf(&b, "- %s: %d deal(s), avg %s, $%.2f/mile\n", l.Route, l.Deals, money(l.AvgPrice), l.AvgPricePerMile)
		}
		b.WriteString("\n")
	}

	if len(r.TopCarriers) > 0 {
		b.WriteString("CARRIER STANDINGS\n")
		for i, c := range r.TopCarriers {
			fmt.Fprintf(&b, "%s. %s: score %.2f over %d deal(s)\n", humanize.Ordinal(i+1), c.AgentID, c.OverallScore, c.TotalDeals)
		}
		b.WriteString("\n")
	}

	if r.World != nil {
		fmt.Fprintf(&b, "NETWORK (tick %s)\n", humanize.Comma(int64(r.World.Tick)))
		if len(r.World.ClosedRoutes) == 0 && len(r.World.BadWeather) == 0 && len(r.World.LowInventory) == 0 {
			b.WriteString("All routes open and warehouses stocked.\n")
		}
		for _, s := range r.World.ClosedRoutes {
			fmt.Fprintf(&b, "- closed: %s\n", s)
		}
		for _, s := range r.World.BadWeather {
			fmt.Fprintf(&b, "- weather: %s\n", s)
		}
		for _, s := range r.World.LowInventory {
			fmt.Fprintf(&b, "- low stock: %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(r.Insights) > 0 {
		b.WriteString("INSIGHTS\n")
		for _, in := range r.Insights {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}
	return b.String()
}
