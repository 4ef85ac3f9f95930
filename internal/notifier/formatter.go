package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"Compounder/internal/model"
	"Compounder/internal/valuation"
)

const timeLayout = "2006-01-02 15:04"

// FormatCycleReport formats the outcome of a compounding cycle.
func FormatCycleReport(r *model.CycleReport) string {
	var b strings.Builder

	if r.Error != "" {
		b.WriteString(fmt.Sprintf("❌ <b>Compound failed</b> | %s\n\n", r.FinishedAt.Format(timeLayout)))
	} else {
		b.WriteString(fmt.Sprintf("✅ <b>Compound cycle</b> | %s\n\n", r.FinishedAt.Format(timeLayout)))
	}

	b.WriteString(fmt.Sprintf("Target: %s\n", html.EscapeString(r.Target)))
	b.WriteString(fmt.Sprintf("Action: %s\n", actionLabel(r.Action)))
	if r.Consolidated > 0 {
		b.WriteString(fmt.Sprintf("Consolidated: %d account(s)\n", r.Consolidated))
	}
	b.WriteString(fmt.Sprintf("Balance: %s (token %s + spendable %s)\n",
		r.Total().StringFixed(model.Precision), r.TokenBalance.StringFixed(model.Precision), r.Spendable.StringFixed(model.Precision)))
	if r.Received.IsPositive() {
		b.WriteString(fmt.Sprintf("Received: %s %s\n", r.Received.StringFixed(model.Precision), html.EscapeString(r.ReceivedSym)))
	}
	if r.NextTarget != "" {
		b.WriteString(fmt.Sprintf("Schedule: %s\n", html.EscapeString(r.NextTarget)))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("\n⚠️ %s\n", html.EscapeString(r.Error)))
	}
	return b.String()
}

// FormatHoldings formats a valued holdings report.
func FormatHoldings(r *valuation.Report) string {
	var b strings.Builder
	cur := strings.ToUpper(r.Currency)
	b.WriteString(fmt.Sprintf("📦 <b>Holdings</b> | %s\n\n", r.At.Format(timeLayout)))
	for _, h := range r.Holdings {
		if h.Priced {
			b.WriteString(fmt.Sprintf("%s: %s (%s %s)\n", html.EscapeString(h.Symbol), h.Amount.StringFixed(model.Precision), h.Value.StringFixed(2), cur))
		} else {
			b.WriteString(fmt.Sprintf("%s: %s (no price)\n", html.EscapeString(h.Symbol), h.Amount.StringFixed(model.Precision)))
		}
	}
	b.WriteString(fmt.Sprintf("\nTotal: %s %s\n", r.Total.StringFixed(2), cur))
	return b.String()
}

// FormatStatus formats the rotation progress and the last cycle. remaining is
// the number of acting cycles left before the schedule rotates, 0 when it
// does not rotate.
func FormatStatus(state model.RotationState, schedule string, remaining int, last *model.CycleReport) string {
	var b strings.Builder
	b.WriteString("📊 <b>Compounder status</b>\n\n")
	b.WriteString(fmt.Sprintf("Schedule: %s\n", html.EscapeString(schedule)))
	if state.Target != "" {
		b.WriteString(fmt.Sprintf("Active target: %s (held %d)\n", html.EscapeString(state.Target), state.Held))
	}
	if remaining > 0 {
		b.WriteString(fmt.Sprintf("Rotates after %d more cycle(s)\n", remaining))
	}
	b.WriteString(fmt.Sprintf("Compounded: %d | Rotations: %d\n", state.Compounded, state.Rotations))
	if !state.LastActionAt.IsZero() {
		b.WriteString(fmt.Sprintf("Last action: %s\n", state.LastActionAt.Format(timeLayout)))
	}
	if last != nil {
		status := "ok"
		if last.Error != "" {
			status = "failed"
		}
		b.WriteString(fmt.Sprintf("Last cycle: %s %s (%s ago)\n",
			actionLabel(last.Action), status, time.Since(last.FinishedAt).Truncate(time.Second)))
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Available commands:\n• /compound run a cycle now\n• /holdings valued holdings\n• /status rotation progress"
}

func actionLabel(a model.ActionKind) string {
	switch a {
	case model.ActionNone:
		return "none (below threshold)"
	case model.ActionTransfer:
		return "transfer"
	case model.ActionSwap:
		return "swap"
	case model.ActionSwapViaReference:
		return "swap via reference token"
	case model.ActionLiquidity:
		return "add liquidity"
	case model.ActionLiquidityViaReference:
		return "add liquidity via reference token"
	case model.ActionInvalid:
		return "invalid target"
	default:
		return string(a)
	}
}
