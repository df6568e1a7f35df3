package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/archon-platform/kernel/pkg/audit"
	"github.com/archon-platform/kernel/pkg/breaker"
	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// fastPathRiskCeiling is the manifest risk at or below which an
// allow-listed operation may skip the full validation chain.
const fastPathRiskCeiling = 0.2

// Validate runs the validation pipeline without executing anything.
// Fail-fast: the first denial is returned with the failing check named.
//
// Chain order: fast-path shortcut, then domain → permission → risk →
// pre-conditions → circuit breaker → resources → audit emit.
func (k *Kernel) Validate(goCtx context.Context, ctx *decision.ExecutionContext) decision.ValidationResult {
	start := k.clock()
	finalize := func(r decision.ValidationResult) decision.ValidationResult {
		r.ElapsedMs = float64(k.clock().Sub(start).Microseconds()) / 1000.0
		return r
	}

	m, err := k.manifests.Load(k.manifestName)
	if err != nil {
		k.logger.Error("manifest load failed", zap.Error(err))
		return finalize(decision.Deny("manifest", decision.ReasonInternalError, decision.SeverityCritical,
			"policy manifest unavailable"))
	}

	if k.fastPathEligible(ctx, m) {
		ctx.Annotate("fast_path", true)
		return finalize(decision.Approve("fast_path", "low-risk allow-listed operation"))
	}

	checks := []func(context.Context, *decision.ExecutionContext, *manifest.Manifest) decision.ValidationResult{
		k.checkDomain,
		k.checkPermission,
		k.checkRisk,
		k.checkPreConditions,
		k.checkCircuit,
		k.checkResources,
		k.auditEmit,
	}
	for _, check := range checks {
		if r := check(goCtx, ctx, m); !r.Approved {
			return finalize(r)
		}
	}
	return finalize(decision.Approve("validation_chain", "all checks passed"))
}

// fastPathEligible: enabled, allow-listed, manifest risk at most 0.2,
// and circuit level below RED. Invariants, whitelist, and registered
// contracts are never skipped; they run inside Execute.
func (k *Kernel) fastPathEligible(ctx *decision.ExecutionContext, m *manifest.Manifest) bool {
	if !k.fastPathEnabled {
		return false
	}
	if _, ok := k.fastPathOps[ctx.Operation]; !ok {
		return false
	}
	if m.RiskLevel(ctx.Operation, 1.0) > fastPathRiskCeiling {
		return false
	}
	// Panic admits nothing, fast path included.
	if k.breaker.Mode() == breaker.PanicPanic {
		return false
	}
	level := k.breaker.Level()
	return level != breaker.LevelRed && level != breaker.LevelBlack
}

func (k *Kernel) checkDomain(_ context.Context, ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	if ctx.Domain == "" {
		return decision.Approve("domain", "no domain scope")
	}
	// A manifest that enumerates domains is closed-world: an unlisted
	// domain is unknown, not implicitly permitted.
	if len(m.Domains) > 0 && !m.DomainKnown(ctx.Domain) {
		return decision.Deny("domain", decision.ReasonDomainNotFound, decision.SeverityMedium,
			fmt.Sprintf("domain %q is not defined", ctx.Domain))
	}
	if !m.IsDomainEnabled(ctx.Domain) {
		return decision.Deny("domain", decision.ReasonDomainDisabled, decision.SeverityMedium,
			fmt.Sprintf("domain %q is disabled", ctx.Domain))
	}
	return decision.Approve("domain", "domain enabled")
}

func (k *Kernel) checkPermission(_ context.Context, ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	if ctx.Domain != "" {
		dc := m.DomainContract(ctx.Domain)
		if dc.DebateRequired {
			return decision.Deny("permission", decision.ReasonDebateRequired, decision.SeverityMedium,
				fmt.Sprintf("domain %q requires debate before execution", ctx.Domain))
		}
		if dc.HumanApprovalRequired {
			return decision.Deny("permission", decision.ReasonApprovalRequired, decision.SeverityMedium,
				fmt.Sprintf("domain %q requires human approval", ctx.Domain))
		}
	}

	opCfg, ok := m.OperationContract(ctx.Operation)
	if ok && opCfg.RequiresApproval && k.breaker.Level() >= breaker.LevelAmber {
		return decision.Deny("permission", decision.ReasonApprovalRequired, decision.SeverityMedium,
			fmt.Sprintf("operation %q requires approval at level %s", ctx.Operation, k.breaker.Level()))
	}
	if ok && opCfg.RequiredPermission != "" {
		if k.permissionCheck == nil {
			return decision.Deny("permission", decision.ReasonPermissionDenied, decision.SeverityHigh,
				"no permission checker configured")
		}
		if !k.permissionCheck(ctx.AgentID, opCfg.RequiredPermission) {
			return decision.Deny("permission", decision.ReasonPermissionDenied, decision.SeverityMedium,
				fmt.Sprintf("agent lacks permission %q", opCfg.RequiredPermission))
		}
	}
	return decision.Approve("permission", "permission requirements satisfied")
}

// levelMultiplier tightens the risk bar as autonomy degrades.
func levelMultiplier(level breaker.AutonomyLevel) float64 {
	switch level {
	case breaker.LevelGreen:
		return 1.0
	case breaker.LevelAmber:
		return 0.7
	case breaker.LevelRed:
		return 0.3
	default:
		return 0.0
	}
}

func (k *Kernel) checkRisk(_ context.Context, ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	opRisk := m.RiskLevel(ctx.Operation, 0.5)
	ctx.Annotate("risk_level", opRisk)

	securityMultiplier := 1.0
	if k.securityLevel == "light" {
		securityMultiplier = 1.5
	}
	threshold := k.defaultRiskThreshold * levelMultiplier(k.breaker.Level()) * securityMultiplier

	if opRisk > threshold {
		return decision.Deny("risk", decision.ReasonRiskTooHigh, decision.SeverityHigh,
			fmt.Sprintf("operation risk %.2f exceeds threshold %.2f", opRisk, threshold)).
			WithDetails(map[string]interface{}{"risk_level": opRisk, "threshold": threshold})
	}

	d := k.breaker.IsAllowed(ctx.Operation, ctx.AgentID)
	if !d.Allowed {
		if k.breaker.Mode() == breaker.PanicPanic {
			return decision.Deny("risk", decision.ReasonCircuitOpen, decision.SeverityCritical,
				"circuit breaker in panic mode")
		}
		return decision.Deny("risk", decision.ReasonRiskTooHigh, decision.SeverityHigh, d.Reason).
			WithDetails(map[string]interface{}{
				"operation_risk":   d.OperationRisk,
				"agent_threshold":  d.AgentThreshold,
				"reputation_score": d.ReputationScore,
			})
	}
	return decision.Approve("risk", "risk within threshold")
}

func (k *Kernel) checkPreConditions(_ context.Context, ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	// A registered contract supersedes the manifest's declarative
	// pre-conditions; it runs inside Execute.
	if _, ok := k.lookupContract(ctx.Operation); ok {
		return decision.Approve("pre_conditions", "registered contract takes precedence")
	}

	opCfg, ok := m.OperationContract(ctx.Operation)
	if !ok {
		return decision.Approve("pre_conditions", "no declarative pre-conditions")
	}
	for _, name := range opCfg.PreConditions {
		c, known := k.namedConditions[name]
		if !known {
			return decision.Deny("pre_conditions", decision.ReasonPreConditionFailed, decision.SeverityHigh,
				fmt.Sprintf("unknown pre-condition %q", name))
		}
		if r := c.CheckPre(ctx, m); !r.Approved {
			return r
		}
	}
	return decision.Approve("pre_conditions", "declarative pre-conditions satisfied")
}

func (k *Kernel) checkCircuit(_ context.Context, ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	if k.breaker.Mode() == breaker.PanicPanic {
		return decision.Deny("circuit", decision.ReasonCircuitOpen, decision.SeverityCritical,
			"circuit breaker in panic mode")
	}
	level := k.breaker.Level()
	if !breaker.AllowedAtLevel(level, ctx.Operation) {
		return decision.Deny("circuit", decision.ReasonCircuitOpen, decision.SeverityHigh,
			fmt.Sprintf("operation %q not permitted at level %s", ctx.Operation, level))
	}
	if opCfg, ok := m.OperationContract(ctx.Operation); ok && opCfg.RequiresApproval && level == breaker.LevelAmber {
		return decision.Deny("circuit", decision.ReasonApprovalRequired, decision.SeverityMedium,
			fmt.Sprintf("operation %q requires approval at level AMBER", ctx.Operation))
	}
	return decision.Approve("circuit", "circuit permits operation")
}

func (k *Kernel) checkResources(goCtx context.Context, ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	payload, err := json.Marshal(ctx.Parameters)
	if err != nil {
		return decision.Deny("resources", decision.ReasonInternalError, decision.SeverityCritical,
			"payload not serializable")
	}
	if len(payload) > k.maxPayloadBytes {
		return decision.Deny("resources", decision.ReasonResourceLimit, decision.SeverityMedium,
			fmt.Sprintf("payload %d bytes exceeds cap %d", len(payload), k.maxPayloadBytes)).
			WithDetails(map[string]interface{}{"size": len(payload), "max": k.maxPayloadBytes})
	}

	if !ctx.Deadline.IsZero() && k.clock().After(ctx.Deadline) {
		return decision.Deny("resources", decision.ReasonTimeout, decision.SeverityMedium,
			"request deadline already passed")
	}

	if k.limiter != nil {
		allowed, err := k.limiter.Allow(goCtx, ctx.AgentID, 1)
		if err != nil {
			k.logger.Error("rate limiter unavailable", zap.Error(err))
			return decision.Deny("resources", decision.ReasonUnavailable, decision.SeverityHigh,
				"rate limiter unavailable")
		}
		if !allowed {
			return decision.Deny("resources", decision.ReasonRateLimited, decision.SeverityMedium,
				fmt.Sprintf("agent %q exceeded request rate", ctx.AgentID))
		}
	}
	return decision.Approve("resources", "within resource limits")
}

// auditEmit writes the approval record. With auditFailClosed, a write
// failure denies the request: an unauditable operation must not run.
func (k *Kernel) auditEmit(goCtx context.Context, ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	if k.auditLog == nil {
		if k.auditFailClosed {
			return decision.Deny("audit", decision.ReasonAuditFailed, decision.SeverityCritical,
				"no audit log configured")
		}
		return decision.Approve("audit", "audit disabled")
	}

	_, err := k.auditLog.Append(goCtx, audit.Record{
		AgentID:   ctx.AgentID,
		Operation: ctx.Operation,
		Domain:    ctx.Domain,
		Approved:  true,
		Reason:    string(decision.ReasonApproved),
		Details:   map[string]interface{}{"request_id": ctx.RequestID},
	})
	if err != nil {
		if k.auditFailClosed {
			k.logger.Error("audit write failed, denying", zap.Error(err))
			return decision.Deny("audit", decision.ReasonAuditFailed, decision.SeverityCritical,
				"audit trail write failed")
		}
		k.logger.Warn("audit write failed, proceeding", zap.Error(err))
	}
	return decision.Approve("audit", "decision audited")
}
