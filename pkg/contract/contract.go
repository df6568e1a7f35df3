// Package contract implements the Intent Contract engine: composable
// trees of per-operation pre/post conditions evaluated against the
// request context and manifest data.
//
// Every node checks pre-conditions; nodes that also verify operation
// output implement PostChecker. Composition is And/Or/Not. The circuit
// breaker is visible to contracts only through the narrow
// StrictnessProvider capability.
package contract

import (
	"encoding/json"
	"fmt"

	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/invariant"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// Contract is one node of a condition tree.
type Contract interface {
	Name() string
	CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult
}

// PostChecker is implemented by contracts that verify invariants about
// the operation's output.
type PostChecker interface {
	CheckPost(ctx *decision.ExecutionContext, output interface{}, m *manifest.Manifest) decision.ValidationResult
}

// StrictnessProvider is the only view of the circuit breaker a contract
// may hold.
type StrictnessProvider interface {
	Strictness() float64
}

// CheckPost runs the contract's post-condition if it declares one;
// contracts without post-conditions approve trivially.
func CheckPost(c Contract, ctx *decision.ExecutionContext, output interface{}, m *manifest.Manifest) decision.ValidationResult {
	if pc, ok := c.(PostChecker); ok {
		return pc.CheckPost(ctx, output, m)
	}
	return decision.Approve(c.Name(), "no post-condition declared")
}

// AlwaysAllow approves unconditionally. Useful as a neutral element and
// for explicitly marking unrestricted operations.
type AlwaysAllow struct{}

func (AlwaysAllow) Name() string { return "always_allow" }

func (a AlwaysAllow) CheckPre(*decision.ExecutionContext, *manifest.Manifest) decision.ValidationResult {
	return decision.Approve(a.Name(), "unconditionally allowed")
}

// AlwaysDeny denies unconditionally, with an operator-supplied message.
type AlwaysDeny struct {
	Message string
}

func (AlwaysDeny) Name() string { return "always_deny" }

func (a AlwaysDeny) CheckPre(*decision.ExecutionContext, *manifest.Manifest) decision.ValidationResult {
	msg := a.Message
	if msg == "" {
		msg = "operation unconditionally denied"
	}
	return decision.Deny(a.Name(), decision.ReasonPermissionDenied, decision.SeverityHigh, msg)
}

// PermissionFunc answers whether an agent holds a permission. Supplied
// by the upstream identity layer.
type PermissionFunc func(agentID, permission string) bool

// RequirePermission denies unless the agent holds Permission. A nil
// checker denies everything: absence of an identity layer must not
// grant access.
type RequirePermission struct {
	Permission string
	Check      PermissionFunc
}

func (RequirePermission) Name() string { return "require_permission" }

func (r RequirePermission) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	if r.Check == nil {
		return decision.Deny(r.Name(), decision.ReasonPermissionDenied, decision.SeverityHigh,
			"no permission checker configured")
	}
	if !r.Check(ctx.AgentID, r.Permission) {
		return decision.Deny(r.Name(), decision.ReasonPermissionDenied, decision.SeverityMedium,
			fmt.Sprintf("agent lacks permission %q", r.Permission)).
			WithDetails(map[string]interface{}{"permission": r.Permission})
	}
	return decision.Approve(r.Name(), "permission granted")
}

// RequireDomainEnabled denies when the request's domain is disabled in
// the manifest. Requests without a domain scope pass; the kernel's own
// domain check handles resolution.
type RequireDomainEnabled struct{}

func (RequireDomainEnabled) Name() string { return "require_domain_enabled" }

func (r RequireDomainEnabled) CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	if ctx.Domain == "" {
		return decision.Approve(r.Name(), "no domain scope")
	}
	if m == nil {
		return decision.Deny(r.Name(), decision.ReasonInternalError, decision.SeverityCritical,
			"no manifest available for domain check")
	}
	if !m.IsDomainEnabled(ctx.Domain) {
		return decision.Deny(r.Name(), decision.ReasonDomainDisabled, decision.SeverityMedium,
			fmt.Sprintf("domain %q is disabled", ctx.Domain))
	}
	return decision.Approve(r.Name(), "domain enabled")
}

// MaxOperationSize caps the serialized parameter size.
type MaxOperationSize struct {
	MaxBytes int
}

func (MaxOperationSize) Name() string { return "max_operation_size" }

func (c MaxOperationSize) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	data, err := json.Marshal(ctx.Parameters)
	if err != nil {
		return decision.Deny(c.Name(), decision.ReasonInternalError, decision.SeverityCritical,
			"parameters not serializable")
	}
	if len(data) > c.MaxBytes {
		return decision.Deny(c.Name(), decision.ReasonResourceLimit, decision.SeverityMedium,
			fmt.Sprintf("payload %d bytes exceeds cap %d", len(data), c.MaxBytes)).
			WithDetails(map[string]interface{}{"size": len(data), "max": c.MaxBytes})
	}
	return decision.Approve(c.Name(), "payload within size cap")
}

// ProtectedPathCheck denies when any path parameter resolves under a
// protected prefix (symlinks followed).
type ProtectedPathCheck struct{}

func (ProtectedPathCheck) Name() string { return "protected_path_check" }

func (c ProtectedPathCheck) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	if !invariant.NoProtectedPathAccess(ctx.Parameters) {
		return decision.Deny(c.Name(), decision.ReasonPermissionDenied, decision.SeverityHigh,
			"parameters reference a protected path")
	}
	return decision.Approve(c.Name(), "no protected path referenced")
}

// RequireManifestContract denies operations the manifest does not know
// about (no exact entry and no wildcard).
type RequireManifestContract struct{}

func (RequireManifestContract) Name() string { return "require_manifest_contract" }

func (c RequireManifestContract) CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	if m == nil {
		return decision.Deny(c.Name(), decision.ReasonInternalError, decision.SeverityCritical,
			"no manifest available")
	}
	if _, ok := m.OperationContract(ctx.Operation); !ok {
		return decision.Deny(c.Name(), decision.ReasonPreConditionFailed, decision.SeverityMedium,
			fmt.Sprintf("operation %q has no manifest contract", ctx.Operation))
	}
	return decision.Approve(c.Name(), "manifest contract present")
}

// CustomInvariant lifts a named predicate over the parameters into a
// contract node.
type CustomInvariant struct {
	InvariantName string
	Predicate     invariant.Predicate
}

func (c CustomInvariant) Name() string {
	if c.InvariantName != "" {
		return c.InvariantName
	}
	return "custom_invariant"
}

func (c CustomInvariant) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	if c.Predicate == nil {
		return decision.Deny(c.Name(), decision.ReasonInternalError, decision.SeverityCritical,
			"custom invariant has no predicate")
	}
	if !c.Predicate(ctx.Parameters) {
		return decision.Deny(c.Name(), decision.ReasonInvariantViolated, decision.SeverityHigh,
			fmt.Sprintf("invariant %q violated", c.Name()))
	}
	return decision.Approve(c.Name(), "invariant holds")
}
