package contract

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// CELContract evaluates a compiled CEL expression as a pre-condition.
// The expression sees the request as `agent`, `operation`, `domain`,
// and `params`, plus the current breaker `strictness` when a provider
// is attached. Evaluation errors deny: an unevaluable policy must not
// admit traffic.
type CELContract struct {
	name       string
	expr       string
	prg        cel.Program
	strictness StrictnessProvider
}

// NewCELContract compiles expr once; a compile failure is returned to
// the caller rather than deferred to request time.
func NewCELContract(name, expr string, strictness StrictnessProvider) (*CELContract, error) {
	env, err := cel.NewEnv(
		cel.Variable("agent", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("params", cel.DynType),
		cel.Variable("strictness", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", name, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", name, err)
	}

	return &CELContract{name: name, expr: expr, prg: prg, strictness: strictness}, nil
}

func (c *CELContract) Name() string { return c.name }

func (c *CELContract) CheckPre(ctx *decision.ExecutionContext, _ *manifest.Manifest) decision.ValidationResult {
	strictness := 0.0
	if c.strictness != nil {
		strictness = c.strictness.Strictness()
	}
	input := map[string]any{
		"agent":      ctx.AgentID,
		"operation":  ctx.Operation,
		"domain":     ctx.Domain,
		"params":     ctx.Parameters,
		"strictness": strictness,
	}

	out, _, err := c.prg.Eval(input)
	if err != nil {
		return decision.Deny(c.name, decision.ReasonInternalError, decision.SeverityCritical,
			fmt.Sprintf("policy expression failed: %v", err))
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return decision.Deny(c.name, decision.ReasonInternalError, decision.SeverityCritical,
			"policy expression did not yield a boolean")
	}
	if !allowed {
		return decision.Deny(c.name, decision.ReasonPreConditionFailed, decision.SeverityMedium,
			fmt.Sprintf("policy expression %q not satisfied", c.name))
	}
	return decision.Approve(c.name, "policy expression satisfied")
}
