package kernel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/archon-platform/kernel/pkg/audit"
	"github.com/archon-platform/kernel/pkg/breaker"
	"github.com/archon-platform/kernel/pkg/contract"
	"github.com/archon-platform/kernel/pkg/decision"
)

// Request is the authenticated request struct consumed by Execute.
// Authentication happens upstream; the kernel trusts AgentID.
type Request struct {
	Operation string
	Payload   map[string]interface{}
	AgentID   string
	Domain    string

	// RequestID overrides the derived fingerprint when the caller needs
	// to correlate with an upstream trace.
	RequestID string
}

// Execute is the single execution entry point. Order: build context,
// whitelist, validation pipeline, contract pre-conditions, invariants,
// the callable itself, contract post-conditions, invariants again.
//
// Expected denials surface as *decision.PermissionError; any other
// error is an operation or internal failure. The kernel makes no
// rollback guarantee beyond refusing to return a result.
func (k *Kernel) Execute(goCtx context.Context, req Request) (interface{}, error) {
	ctx, err := decision.NewExecutionContext(req.AgentID, req.Operation, req.Payload, k.clock())
	if err != nil {
		return nil, &decision.PermissionError{Reason: decision.ReasonPermissionDenied, Message: err.Error()}
	}
	ctx.Domain = req.Domain
	ctx.Deadline = ctx.Timestamp.Add(k.defaultDeadline)
	if req.RequestID != "" {
		ctx.RequestID = req.RequestID
	}

	// Whitelist closure: nothing outside the registry is ever invoked,
	// and the denial carries the unknown-operation reason no matter what
	// the rest of the pipeline would have said.
	reg, ok := k.lookupOperation(req.Operation)
	if !ok {
		r := decision.Deny("whitelist", decision.ReasonUnknownOperation, decision.SeverityHigh,
			fmt.Sprintf("operation %q is not registered", req.Operation))
		return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeForbidden)
	}

	result := k.Validate(goCtx, ctx)
	if k.telemetry != nil {
		k.telemetry.RecordValidationDuration(goCtx, req.Operation,
			time.Duration(result.ElapsedMs*float64(time.Millisecond)))
	}
	if !result.Approved {
		return nil, k.denyRequest(goCtx, ctx, result, breaker.OutcomeRejected)
	}
	_, fastPath := ctx.IntentContract["fast_path"]
	if fastPath && k.telemetry != nil {
		k.telemetry.RecordFastPath(goCtx, req.Operation)
	}

	m, err := k.manifests.Load(k.manifestName)
	if err != nil {
		r := decision.Deny("manifest", decision.ReasonInternalError, decision.SeverityCritical,
			"policy manifest unavailable")
		return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeRejected)
	}

	// Contract pre-conditions run even on the fast path.
	c, hasContract := k.lookupContract(req.Operation)
	if hasContract {
		if r := c.CheckPre(ctx, m); !r.Approved {
			return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeRejected)
		}
	}

	if violated := k.invariants.Check(ctx.Parameters); violated != "" {
		r := decision.Deny("invariants", decision.ReasonInvariantViolated, decision.SeverityHigh,
			fmt.Sprintf("invariant %q violated", violated))
		return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeRejected)
	}

	output, err := reg.Callable(ctx.Parameters)
	if err != nil {
		// Validation approved; the operation itself failed. Not a policy
		// denial, so the error passes through untyped.
		k.countApproval(fastPath)
		k.breaker.RecordOutcome(ctx.AgentID, breaker.OutcomeApproved)
		k.logger.Warn("operation failed",
			zap.String("operation", req.Operation),
			zap.String("request_id", ctx.RequestID),
			zap.Error(err))
		return nil, fmt.Errorf("operation %q failed: %w", req.Operation, err)
	}

	if hasContract {
		if r := contract.CheckPost(c, ctx, output, m); !r.Approved {
			return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeRejected)
		}
	}

	// Invariants re-run after execution: a violation here means the
	// operation tampered with its inputs or produced a forbidden
	// output, and its result must not be returned.
	if violated := k.postInvariantCheck(ctx.Parameters, output); violated != "" {
		r := decision.Deny("invariants", decision.ReasonInvariantViolated, decision.SeverityCritical,
			fmt.Sprintf("invariant %q violated after execution, tampering suspected", violated))
		return nil, k.denyRequest(goCtx, ctx, r, breaker.OutcomeRejected)
	}

	k.countApproval(fastPath)
	k.breaker.RecordOutcome(ctx.AgentID, breaker.OutcomeSuccess)
	if k.telemetry != nil {
		k.telemetry.RecordDecision(goCtx, req.Operation, string(decision.ReasonApproved), true)
	}
	return output, nil
}

func (k *Kernel) postInvariantCheck(params map[string]interface{}, output interface{}) string {
	if violated := k.invariants.Check(params); violated != "" {
		return violated
	}
	if out, ok := output.(map[string]interface{}); ok {
		return k.invariants.Check(out)
	}
	return ""
}

// denyRequest counts the denial, feeds the breaker's metrics stream,
// records the audit entry, and converts the result into the
// exception-shaped signal for the caller.
func (k *Kernel) denyRequest(goCtx context.Context, ctx *decision.ExecutionContext, r decision.ValidationResult, outcome breaker.Outcome) error {
	k.countDenial(r.Reason)
	k.breaker.RecordOutcome(ctx.AgentID, outcome)
	if k.telemetry != nil {
		k.telemetry.RecordDecision(goCtx, ctx.Operation, string(r.Reason), false)
	}

	if k.auditLog != nil {
		// Best effort: the request is already being denied.
		if _, err := k.auditLog.Append(goCtx, audit.Record{
			AgentID:   ctx.AgentID,
			Operation: ctx.Operation,
			Domain:    ctx.Domain,
			Approved:  false,
			Reason:    string(r.Reason),
			Details:   map[string]interface{}{"request_id": ctx.RequestID, "check": r.CheckName},
		}); err != nil {
			k.logger.Error("denial audit write failed", zap.Error(err))
		}
	}

	k.logger.Info("request denied",
		zap.String("operation", ctx.Operation),
		zap.String("agent", ctx.AgentID),
		zap.String("reason", string(r.Reason)),
		zap.String("check", r.CheckName))
	return &decision.PermissionError{Reason: r.Reason, Message: r.Message}
}
