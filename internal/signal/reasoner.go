package signal

import (
	"context"
	"fmt"
	"strings"
)

// Reasoner produces trade reasoning text. Implementations may call out to an
// LLM; callers must treat errors as non-fatal and fall back to
// RuleBasedReasoning.
type Reasoner interface {
	Reason(ctx context.Context, sig *Signal) (string, error)
}

// RuleBasedReasoning formats a deterministic multi-line explanation from the
// signal's confluence factors and levels
func RuleBasedReasoning(sig *Signal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s on %s (%s setup)\n", strings.ToUpper(string(sig.Side)), sig.Symbol, sig.EntryTimeframe, sig.SetupType)
	fmt.Fprintf(&b, "Market phase: %s; higher-timeframe trend: %s\n", sig.MarketPhase, sig.HTFBias)

	if len(sig.Patterns) > 0 {
		names := make([]string, len(sig.Patterns))
		for i, p := range sig.Patterns {
			names[i] = string(p)
		}
		fmt.Fprintf(&b, "Patterns: %s\n", strings.Join(names, ", "))
	}

	if sig.Confluence != nil {
		fmt.Fprintf(&b, "Confluence %.2f (%s):\n", sig.Confluence.Total, sig.Confluence.Quality)
		for _, f := range sig.Confluence.Factors {
			fmt.Fprintf(&b, "  + %s\n", f)
		}
		for _, w := range sig.Confluence.Warnings {
			fmt.Fprintf(&b, "  ! %s\n", w)
		}
	}

	fmt.Fprintf(&b, "Entry %.4f, stop %.4f, tp1 %.4f, tp2 %.4f", sig.Entry, sig.Stop, sig.TP1, sig.TP2)
	if sig.TP3 != nil {
		fmt.Fprintf(&b, ", tp3 %.4f", *sig.TP3)
	}
	fmt.Fprintf(&b, " (R:R %.2f)", sig.RewardRisk())

	return b.String()
}
