package contract

import (
	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// And approves only when every child approves; the first denial is
// returned with its reason preserved.
type And struct {
	Children []Contract
}

// AllOf is a convenience constructor for And.
func AllOf(children ...Contract) And { return And{Children: children} }

func (And) Name() string { return "and" }

func (a And) CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	for _, child := range a.Children {
		if r := child.CheckPre(ctx, m); !r.Approved {
			return r
		}
	}
	return decision.Approve(a.Name(), "all conditions satisfied")
}

func (a And) CheckPost(ctx *decision.ExecutionContext, output interface{}, m *manifest.Manifest) decision.ValidationResult {
	for _, child := range a.Children {
		if r := CheckPost(child, ctx, output, m); !r.Approved {
			return r
		}
	}
	return decision.Approve(a.Name(), "all post-conditions satisfied")
}

// Or approves when any child approves; otherwise it returns the denial
// of the highest-severity child.
type Or struct {
	Children []Contract
}

// AnyOf is a convenience constructor for Or.
func AnyOf(children ...Contract) Or { return Or{Children: children} }

func (Or) Name() string { return "or" }

func (o Or) CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	return o.evaluate(func(c Contract) decision.ValidationResult {
		return c.CheckPre(ctx, m)
	})
}

func (o Or) CheckPost(ctx *decision.ExecutionContext, output interface{}, m *manifest.Manifest) decision.ValidationResult {
	return o.evaluate(func(c Contract) decision.ValidationResult {
		return CheckPost(c, ctx, output, m)
	})
}

func (o Or) evaluate(check func(Contract) decision.ValidationResult) decision.ValidationResult {
	if len(o.Children) == 0 {
		return decision.Deny(o.Name(), decision.ReasonPreConditionFailed, decision.SeverityMedium,
			"empty alternative has no satisfiable branch")
	}
	var worst decision.ValidationResult
	haveWorst := false
	for _, child := range o.Children {
		r := check(child)
		if r.Approved {
			return r
		}
		if !haveWorst || severityRank(r.Severity) > severityRank(worst.Severity) {
			worst = r
			haveWorst = true
		}
	}
	return worst
}

// Not inverts its child. Inverting a denial yields a generic approval;
// inverting an approval yields a denial naming the satisfied child.
type Not struct {
	Child Contract
}

func (Not) Name() string { return "not" }

func (n Not) CheckPre(ctx *decision.ExecutionContext, m *manifest.Manifest) decision.ValidationResult {
	r := n.Child.CheckPre(ctx, m)
	if r.Approved {
		return decision.Deny(n.Name(), decision.ReasonPreConditionFailed, decision.SeverityMedium,
			"negated condition "+n.Child.Name()+" was satisfied")
	}
	return decision.Approve(n.Name(), "negative contract satisfied")
}

func (n Not) CheckPost(ctx *decision.ExecutionContext, output interface{}, m *manifest.Manifest) decision.ValidationResult {
	r := CheckPost(n.Child, ctx, output, m)
	if r.Approved {
		return decision.Deny(n.Name(), decision.ReasonPostConditionFailed, decision.SeverityMedium,
			"negated post-condition "+n.Child.Name()+" was satisfied")
	}
	return decision.Approve(n.Name(), "negative contract satisfied")
}

func severityRank(s decision.Severity) int {
	switch s {
	case decision.SeverityCritical:
		return 3
	case decision.SeverityHigh:
		return 2
	case decision.SeverityMedium:
		return 1
	default:
		return 0
	}
}
