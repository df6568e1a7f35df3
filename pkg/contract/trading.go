package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// Domain contracts for trading operations. They illustrate how
// output-verifying contracts plug into the engine: each one denies when
// the operation's result cannot be verified, never assumes the happy
// shape.

// SharpeRatio requires the risk-adjusted return of the produced
// portfolio to meet a floor. The output must carry either a precomputed
// "sharpe_ratio" or a "returns" series to derive it from.
type SharpeRatio struct {
	MinRatio float64
}

func (SharpeRatio) Name() string { return "sharpe_ratio" }

func (s SharpeRatio) CheckPre(*decision.ExecutionContext, *manifest.Manifest) decision.ValidationResult {
	return decision.Approve(s.Name(), "verified post-execution")
}

func (s SharpeRatio) CheckPost(_ *decision.ExecutionContext, output interface{}, _ *manifest.Manifest) decision.ValidationResult {
	out, ok := output.(map[string]interface{})
	if !ok {
		return decision.Deny(s.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			"output shape not verifiable")
	}

	ratio, ok := asFloat(out["sharpe_ratio"])
	if !ok {
		returns, rok := asFloatSlice(out["returns"])
		if !rok || len(returns) < 2 {
			return decision.Deny(s.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
				"no sharpe ratio or returns series in output")
		}
		ratio = sharpe(returns)
	}

	if ratio < s.MinRatio {
		return decision.Deny(s.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			fmt.Sprintf("sharpe ratio %.3f below floor %.3f", ratio, s.MinRatio)).
			WithDetails(map[string]interface{}{"sharpe_ratio": ratio, "min": s.MinRatio})
	}
	return decision.Approve(s.Name(), "sharpe ratio acceptable")
}

func sharpe(returns []float64) float64 {
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	if variance == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return mean / math.Sqrt(variance)
}

// PositionLimit caps how many open positions the operation may create
// or leave behind. Checked both on the requested orders and on the
// reported resulting positions.
type PositionLimit struct {
	MaxPositions int
}

func (PositionLimit) Name() string { return "position_limit" }

func (p PositionLimit) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	orders := asMapSlice(ctx.Parameters["orders"])
	if len(orders) > p.MaxPositions {
		return decision.Deny(p.Name(), decision.ReasonPreConditionFailed, decision.SeverityMedium,
			fmt.Sprintf("%d orders exceed position limit %d", len(orders), p.MaxPositions))
	}
	return decision.Approve(p.Name(), "order count within limit")
}

func (p PositionLimit) CheckPost(_ *decision.ExecutionContext, output interface{}, _ *manifest.Manifest) decision.ValidationResult {
	out, ok := output.(map[string]interface{})
	if !ok {
		return decision.Approve(p.Name(), "no position data in output")
	}
	positions := asMapSlice(out["positions"])
	if len(positions) > p.MaxPositions {
		return decision.Deny(p.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			fmt.Sprintf("%d resulting positions exceed limit %d", len(positions), p.MaxPositions))
	}
	return decision.Approve(p.Name(), "positions within limit")
}

// DrawdownLimit rejects results whose equity curve fell more than the
// configured fraction peak-to-trough.
type DrawdownLimit struct {
	MaxDrawdown float64 // fraction in [0,1]
}

func (DrawdownLimit) Name() string { return "drawdown_limit" }

func (d DrawdownLimit) CheckPre(*decision.ExecutionContext, *manifest.Manifest) decision.ValidationResult {
	return decision.Approve(d.Name(), "verified post-execution")
}

func (d DrawdownLimit) CheckPost(_ *decision.ExecutionContext, output interface{}, _ *manifest.Manifest) decision.ValidationResult {
	out, ok := output.(map[string]interface{})
	if !ok {
		return decision.Deny(d.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			"output shape not verifiable")
	}
	curve, ok := asFloatSlice(out["equity_curve"])
	if !ok || len(curve) == 0 {
		return decision.Deny(d.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			"no equity curve in output")
	}

	dd := maxDrawdown(curve)
	if dd > d.MaxDrawdown {
		return decision.Deny(d.Name(), decision.ReasonPostConditionFailed, decision.SeverityHigh,
			fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", dd*100, d.MaxDrawdown*100)).
			WithDetails(map[string]interface{}{"drawdown": dd, "max": d.MaxDrawdown})
	}
	return decision.Approve(d.Name(), "drawdown within limit")
}

func maxDrawdown(curve []float64) float64 {
	peak := curve[0]
	worst := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// MarketManipulationCheck screens requested orders for wash-trading and
// spoofing shapes before execution.
type MarketManipulationCheck struct{}

func (MarketManipulationCheck) Name() string { return "market_manipulation_check" }

func (c MarketManipulationCheck) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	orders := asMapSlice(ctx.Parameters["orders"])
	if len(orders) == 0 {
		return decision.Approve(c.Name(), "no orders to screen")
	}

	// Wash trading: opposite sides on the same symbol with matching size
	// in a single request.
	type key struct {
		symbol string
		qty    float64
	}
	sides := map[key]map[string]bool{}
	for _, o := range orders {
		sym, _ := o["symbol"].(string)
		side, _ := o["side"].(string)
		qty, _ := asFloat(o["quantity"])
		k := key{symbol: sym, qty: qty}
		if sides[k] == nil {
			sides[k] = map[string]bool{}
		}
		sides[k][strings.ToLower(side)] = true
		if sides[k]["buy"] && sides[k]["sell"] {
			return decision.Deny(c.Name(), decision.ReasonPreConditionFailed, decision.SeverityCritical,
				fmt.Sprintf("wash trade pattern on %s", sym)).
				WithDetails(map[string]interface{}{"symbol": sym, "quantity": qty})
		}
	}

	// Spoofing: orders flagged for immediate cancellation.
	for _, o := range orders {
		if cancel, _ := o["cancel_after_place"].(bool); cancel {
			sym, _ := o["symbol"].(string)
			return decision.Deny(c.Name(), decision.ReasonPreConditionFailed, decision.SeverityCritical,
				fmt.Sprintf("spoofing pattern on %s: order placed to cancel", sym))
		}
	}

	return decision.Approve(c.Name(), "no manipulation pattern detected")
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asFloatSlice(v interface{}) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []interface{}:
		out := make([]float64, 0, len(s))
		for _, item := range s {
			f, ok := asFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func asMapSlice(v interface{}) []map[string]interface{} {
	switch s := v.(type) {
	case []map[string]interface{}:
		return s
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
