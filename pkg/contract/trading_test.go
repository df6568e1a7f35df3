package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archon-platform/kernel/pkg/decision"
)

func TestSharpeRatioPost(t *testing.T) {
	ctx := testCtx(t, "rebalance_portfolio", nil)
	c := SharpeRatio{MinRatio: 0.5}

	good := map[string]interface{}{"sharpe_ratio": 1.2}
	assert.True(t, c.CheckPost(ctx, good, nil).Approved)

	bad := map[string]interface{}{"sharpe_ratio": 0.1}
	r := c.CheckPost(ctx, bad, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPostConditionFailed, r.Reason)

	// Derived from a returns series when no precomputed ratio exists.
	steady := map[string]interface{}{"returns": []interface{}{0.02, 0.03, 0.025, 0.028}}
	assert.True(t, c.CheckPost(ctx, steady, nil).Approved)

	// Unverifiable output is denied, not waved through.
	assert.False(t, c.CheckPost(ctx, "not a map", nil).Approved)
	assert.False(t, c.CheckPost(ctx, map[string]interface{}{}, nil).Approved)
}

func TestPositionLimit(t *testing.T) {
	c := PositionLimit{MaxPositions: 2}

	ok := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "AAPL", "side": "buy", "quantity": 10.0},
		},
	})
	assert.True(t, c.CheckPre(ok, nil).Approved)

	over := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "AAPL"},
			map[string]interface{}{"symbol": "MSFT"},
			map[string]interface{}{"symbol": "GOOG"},
		},
	})
	assert.False(t, c.CheckPre(over, nil).Approved)

	output := map[string]interface{}{
		"positions": []interface{}{
			map[string]interface{}{"symbol": "AAPL"},
			map[string]interface{}{"symbol": "MSFT"},
			map[string]interface{}{"symbol": "GOOG"},
		},
	}
	r := c.CheckPost(ok, output, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPostConditionFailed, r.Reason)
}

func TestDrawdownLimit(t *testing.T) {
	ctx := testCtx(t, "run_backtest", nil)
	c := DrawdownLimit{MaxDrawdown: 0.2}

	gentle := map[string]interface{}{"equity_curve": []interface{}{100.0, 105.0, 95.0, 110.0}}
	assert.True(t, c.CheckPost(ctx, gentle, nil).Approved)

	crash := map[string]interface{}{"equity_curve": []interface{}{100.0, 120.0, 60.0, 80.0}}
	r := c.CheckPost(ctx, crash, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPostConditionFailed, r.Reason)

	assert.False(t, c.CheckPost(ctx, map[string]interface{}{}, nil).Approved)
}

func TestMaxDrawdownComputation(t *testing.T) {
	assert.InDelta(t, 0.5, maxDrawdown([]float64{100, 120, 60, 80}), 0.0001)
	assert.InDelta(t, 0.0, maxDrawdown([]float64{100, 110, 120}), 0.0001)
}

func TestMarketManipulationWashTrade(t *testing.T) {
	c := MarketManipulationCheck{}

	wash := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "AAPL", "side": "buy", "quantity": 100.0},
			map[string]interface{}{"symbol": "AAPL", "side": "sell", "quantity": 100.0},
		},
	})
	r := c.CheckPre(wash, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.SeverityCritical, r.Severity)

	// Same symbol, different sizes: a normal rebalance, not a wash.
	rebalance := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "AAPL", "side": "buy", "quantity": 100.0},
			map[string]interface{}{"symbol": "AAPL", "side": "sell", "quantity": 40.0},
		},
	})
	assert.True(t, c.CheckPre(rebalance, nil).Approved)
}

func TestMarketManipulationSpoofing(t *testing.T) {
	c := MarketManipulationCheck{}

	spoof := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "TSLA", "side": "buy", "quantity": 10000.0, "cancel_after_place": true},
		},
	})
	assert.False(t, c.CheckPre(spoof, nil).Approved)

	clean := testCtx(t, "trade_execute", map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"symbol": "TSLA", "side": "buy", "quantity": 10.0},
		},
	})
	assert.True(t, c.CheckPre(clean, nil).Approved)

	empty := testCtx(t, "get_status", map[string]interface{}{})
	assert.True(t, c.CheckPre(empty, nil).Approved)
}
