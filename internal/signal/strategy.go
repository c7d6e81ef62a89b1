package signal

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"hyperliquid-trading-bot/internal/market"
)

// Op is a condition operator
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// Condition is one field/operator/value test against the signal context.
// Numeric operators require a numeric field; in takes a list value; contains
// applies to strings.
type Condition struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value interface{} `json:"value"`
}

// Evaluate tests the condition against the context. Unknown fields and type
// mismatches evaluate to false rather than erroring.
func (c Condition) Evaluate(ctx map[string]interface{}) bool {
	got, ok := ctx[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return scalarEqual(got, c.Value)
	case OpNe:
		return !scalarEqual(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if scalarEqual(got, v) {
				return true
			}
		}
		return false
	case OpContains:
		s, sok := got.(string)
		sub, subok := c.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

// RiskParams are the rule's sizing overrides
type RiskParams struct {
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	MaxLeverage     float64 `json:"max_leverage"`
}

// StrategyRule is a declarative entry filter with live performance statistics
type StrategyRule struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	EntryType          SetupType          `json:"entry_type"`
	Timeframes         []market.Timeframe `json:"timeframes"`
	Conditions         []Condition        `json:"conditions"`
	ConfluenceRequired []string           `json:"confluence_required"`
	RiskParams         RiskParams         `json:"risk_params"`
	Confidence         float64            `json:"confidence"` // [0, 1]
	TradeCount         int                `json:"trade_count"`
	WinRate            *float64           `json:"win_rate,omitempty"`
	AvgRMultiple       *float64           `json:"avg_r_multiple,omitempty"`
	Enabled            bool               `json:"enabled"`
}

// Matches reports whether the rule applies to a signal context: entry type and
// timeframe must match, every required confluence factor must be present, and
// all conditions must hold.
func (r *StrategyRule) Matches(setup SetupType, tf market.Timeframe, factors []string, ctx map[string]interface{}) bool {
	if !r.Enabled {
		return false
	}
	if r.EntryType != "" && r.EntryType != setup {
		return false
	}
	if len(r.Timeframes) > 0 && !containsTF(r.Timeframes, tf) {
		return false
	}
	for _, need := range r.ConfluenceRequired {
		if !factorPresent(factors, need) {
			return false
		}
	}
	for _, cond := range r.Conditions {
		if !cond.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// MatchStrategy returns the first enabled rule matching the context, or nil
func MatchStrategy(rules []StrategyRule, setup SetupType, tf market.Timeframe, factors []string, ctx map[string]interface{}) *StrategyRule {
	for i := range rules {
		if rules[i].Matches(setup, tf, factors, ctx) {
			return &rules[i]
		}
	}
	return nil
}

func factorPresent(factors []string, need string) bool {
	for _, f := range factors {
		if strings.Contains(strings.ToLower(f), strings.ToLower(need)) {
			return true
		}
	}
	return false
}

func containsTF(tfs []market.Timeframe, tf market.Timeframe) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}

func scalarEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
