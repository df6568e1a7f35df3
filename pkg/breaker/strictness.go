package breaker

import (
	"fmt"

	"go.uber.org/zap"
)

// RecordOutcome feeds one request result into the rolling window and
// the agent's reputation. This is the single mutator path for the
// metrics stream.
func (b *Breaker) RecordOutcome(agentID string, outcome Outcome) {
	b.mu.Lock()
	b.window.record(agentID, outcome)
	b.mu.Unlock()
	b.reputation.record(agentID, outcome, b.clock())
}

// AdjustStrictness runs one tick of the strictness machine: rotate the
// window if due, read the rejection rate, and move strictness and panic
// mode accordingly. The cooldown counter prevents oscillation: after
// any tightening, strictness cannot relax until the counter drains.
func (b *Breaker) AdjustStrictness() {
	b.mu.Lock()
	b.window.rotateIfDue()
	rate := b.window.currentRate()
	fire := func() {}

	switch {
	case rate >= b.cfg.PanicThreshold && b.panicMode != PanicPanic:
		b.strictness = 1.0
		b.cooldownCycles = b.cfg.MinPanicCycles
		b.panicStart = b.clock()
		fire = b.transitionPanicLocked(PanicPanic,
			fmt.Sprintf("rejection rate %.2f >= %.2f", rate, b.cfg.PanicThreshold))
		// The offending window is pushed so the next ticks judge fresh
		// traffic rather than the burst that tripped panic.
		b.window.rotate()
		b.logger.Error("panic mode engaged",
			zap.Float64("rejection_rate", rate),
			zap.Float64("strictness", b.strictness))

	case b.panicMode == PanicPanic:
		if b.cooldownCycles > 0 {
			b.cooldownCycles--
			if rate > b.cfg.HighThreshold {
				// Still rejecting heavily: re-arm the dwell.
				b.cooldownCycles = b.cfg.MinPanicCycles
			}
		} else if rate < b.cfg.HighThreshold {
			b.strictness = clamp(0, 1, b.strictness-b.cfg.MaxAdjustStep)
			fire = b.transitionPanicLocked(PanicNormal,
				fmt.Sprintf("rejection rate %.2f recovered below %.2f", rate, b.cfg.HighThreshold))
			b.logger.Info("panic mode cleared",
				zap.Float64("rejection_rate", rate),
				zap.Float64("strictness", b.strictness))
		}

	case b.cooldownCycles > 0:
		// A recent tightening holds strictness in place.
		b.cooldownCycles--
		if rate > b.cfg.HighThreshold {
			b.cooldownCycles = b.cfg.MinPanicCycles
		}

	case rate > b.cfg.HighThreshold:
		b.strictness = clamp(0, 1, b.strictness+b.cfg.MaxAdjustStep)
		b.cooldownCycles = b.cfg.MinPanicCycles
		fire = b.transitionPanicLocked(PanicElevated,
			fmt.Sprintf("rejection rate %.2f > %.2f", rate, b.cfg.HighThreshold))
		b.logger.Warn("strictness raised",
			zap.Float64("rejection_rate", rate),
			zap.Float64("strictness", b.strictness))

	case rate < b.cfg.LowThreshold:
		if b.strictness > 0 {
			b.strictness = clamp(0, 1, b.strictness-b.cfg.MaxAdjustStep)
		}
		if b.panicMode == PanicElevated {
			fire = b.transitionPanicLocked(PanicNormal,
				fmt.Sprintf("rejection rate %.2f below %.2f", rate, b.cfg.LowThreshold))
		}
	}

	b.mu.Unlock()
	fire()
}

// Decision is the outcome of an IsAllowed evaluation, with the scored
// inputs exposed for audit detail.
type Decision struct {
	Allowed         bool    `json:"allowed"`
	Reason          string  `json:"reason,omitempty"`
	OperationRisk   float64 `json:"operation_risk"`
	AgentThreshold  float64 `json:"agent_threshold"`
	OpThreshold     float64 `json:"op_threshold"`
	ReputationScore float64 `json:"reputation_score"`
}

// IsAllowed scores one operation for one agent against the current
// strictness and the agent's reputation. During panic everything is
// denied regardless of score.
//
// A trusted agent (score near 1) sees a low strictness multiplier and
// no risk inflation; a distrusted agent (score near 0) sees both its
// threshold tightened and the operation's base risk inflated toward
// double.
func (b *Breaker) IsAllowed(operation, agentID string) Decision {
	b.mu.Lock()
	mode := b.panicMode
	strictness := b.strictness
	baseRisk, ok := b.cfg.BaseRisks[operation]
	if !ok {
		baseRisk = b.cfg.DefaultBaseRisk
	}
	opThreshold, ok := b.cfg.OperationThresholds[operation]
	if !ok {
		opThreshold = b.cfg.DefaultOperationThreshold
	}
	multBase := b.cfg.AgentStrictnessMultiplier
	b.mu.Unlock()

	score := b.reputation.score(agentID)

	if mode == PanicPanic {
		return Decision{
			Allowed:         false,
			Reason:          "panic mode active",
			ReputationScore: score,
		}
	}

	agentThreshold := strictness * clamp(0.5, 1.5, multBase-score)
	opRisk := clamp(0, 1, baseRisk*(2-score))

	limit := agentThreshold
	if opThreshold > limit {
		limit = opThreshold
	}

	d := Decision{
		Allowed:         opRisk <= limit,
		OperationRisk:   opRisk,
		AgentThreshold:  agentThreshold,
		OpThreshold:     opThreshold,
		ReputationScore: score,
	}
	if !d.Allowed {
		d.Reason = fmt.Sprintf("operation risk %.2f exceeds threshold %.2f", opRisk, limit)
	}
	return d
}

// Reputation returns the tracked reputation for an agent, if any.
func (b *Breaker) Reputation(agentID string) (AgentReputation, bool) {
	return b.reputation.get(agentID)
}
