package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/manifest"
)

func testCtx(t *testing.T, operation string, params map[string]interface{}) *decision.ExecutionContext {
	t.Helper()
	ctx, err := decision.NewExecutionContext("agent_test", operation, params, time.Now())
	require.NoError(t, err)
	return ctx
}

func riskPtr(v float64) *float64 { return &v }

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Version: "1.0.0",
		Domains: map[string]manifest.DomainConfig{
			"filesystem": {Enabled: true},
			"deployment": {Enabled: false},
		},
		Operations: map[string]manifest.OperationConfig{
			"read_file": {RiskLevel: riskPtr(0.1)},
		},
	}
}

func TestAlwaysAllowAndDeny(t *testing.T) {
	ctx := testCtx(t, "read_file", nil)

	assert.True(t, AlwaysAllow{}.CheckPre(ctx, nil).Approved)

	r := AlwaysDeny{Message: "frozen"}.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPermissionDenied, r.Reason)
	assert.Equal(t, "frozen", r.Message)
}

func TestRequirePermission(t *testing.T) {
	ctx := testCtx(t, "deploy", nil)

	granted := RequirePermission{
		Permission: "deploy:prod",
		Check:      func(agent, perm string) bool { return perm == "deploy:prod" },
	}
	assert.True(t, granted.CheckPre(ctx, nil).Approved)

	denied := RequirePermission{
		Permission: "deploy:prod",
		Check:      func(string, string) bool { return false },
	}
	r := denied.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPermissionDenied, r.Reason)

	// No checker configured denies: fail-closed.
	unchecked := RequirePermission{Permission: "deploy:prod"}
	assert.False(t, unchecked.CheckPre(ctx, nil).Approved)
}

func TestRequireDomainEnabled(t *testing.T) {
	m := testManifest()

	ctx := testCtx(t, "read_file", nil)
	ctx.Domain = "filesystem"
	assert.True(t, RequireDomainEnabled{}.CheckPre(ctx, m).Approved)

	ctx.Domain = "deployment"
	r := RequireDomainEnabled{}.CheckPre(ctx, m)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonDomainDisabled, r.Reason)

	// Missing manifest denies when a domain scope is present.
	assert.False(t, RequireDomainEnabled{}.CheckPre(ctx, nil).Approved)

	ctx.Domain = ""
	assert.True(t, RequireDomainEnabled{}.CheckPre(ctx, nil).Approved)
}

func TestMaxOperationSize(t *testing.T) {
	small := testCtx(t, "op", map[string]interface{}{"a": "b"})
	assert.True(t, MaxOperationSize{MaxBytes: 1024}.CheckPre(small, nil).Approved)

	r := MaxOperationSize{MaxBytes: 4}.CheckPre(small, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonResourceLimit, r.Reason)
}

func TestProtectedPathCheck(t *testing.T) {
	safe := testCtx(t, "read_file", map[string]interface{}{"path": "/tmp/ok"})
	assert.True(t, ProtectedPathCheck{}.CheckPre(safe, nil).Approved)

	hot := testCtx(t, "read_file", map[string]interface{}{"path": "/etc/passwd"})
	r := ProtectedPathCheck{}.CheckPre(hot, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPermissionDenied, r.Reason)
}

func TestRequireManifestContract(t *testing.T) {
	m := testManifest()

	known := testCtx(t, "read_file", nil)
	assert.True(t, RequireManifestContract{}.CheckPre(known, m).Approved)

	unknown := testCtx(t, "mystery_op", nil)
	r := RequireManifestContract{}.CheckPre(unknown, m)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPreConditionFailed, r.Reason)

	// Wildcard entry covers unlisted operations.
	m.Operations["*"] = manifest.OperationConfig{FallbackContract: "default"}
	assert.True(t, RequireManifestContract{}.CheckPre(unknown, m).Approved)
}

func TestCustomInvariant(t *testing.T) {
	ctx := testCtx(t, "op", map[string]interface{}{"n": 3.0})

	even := CustomInvariant{
		InvariantName: "n_positive",
		Predicate: func(p map[string]interface{}) bool {
			n, _ := p["n"].(float64)
			return n > 0
		},
	}
	assert.True(t, even.CheckPre(ctx, nil).Approved)

	ctx.Parameters["n"] = -1.0
	r := even.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonInvariantViolated, r.Reason)

	// A predicate-less invariant cannot certify anything.
	assert.False(t, CustomInvariant{InvariantName: "empty"}.CheckPre(ctx, nil).Approved)
}

func TestAndReturnsFirstDenial(t *testing.T) {
	ctx := testCtx(t, "op", nil)

	all := AllOf(AlwaysAllow{}, AlwaysDeny{Message: "first"}, AlwaysDeny{Message: "second"})
	r := all.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, "first", r.Message)

	assert.True(t, AllOf(AlwaysAllow{}, AlwaysAllow{}).CheckPre(ctx, nil).Approved)
	assert.True(t, AllOf().CheckPre(ctx, nil).Approved)
}

func TestOrReturnsHighestSeverityDenial(t *testing.T) {
	ctx := testCtx(t, "op", map[string]interface{}{"path": "/etc/shadow"})

	any := AnyOf(
		AlwaysDeny{Message: "high severity"}, // HIGH
		RequireManifestContract{},            // MEDIUM (nil manifest → CRITICAL)
	)
	r := any.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.SeverityCritical, r.Severity)

	withPass := AnyOf(AlwaysDeny{}, AlwaysAllow{})
	assert.True(t, withPass.CheckPre(ctx, nil).Approved)

	assert.False(t, AnyOf().CheckPre(ctx, nil).Approved)
}

func TestNotInversion(t *testing.T) {
	ctx := testCtx(t, "op", nil)

	inverted := Not{Child: AlwaysDeny{}}
	r := inverted.CheckPre(ctx, nil)
	assert.True(t, r.Approved)
	assert.Equal(t, "negative contract satisfied", r.Message)

	blocked := Not{Child: AlwaysAllow{}}
	assert.False(t, blocked.CheckPre(ctx, nil).Approved)
}

func TestCheckPostDefaultsToApproval(t *testing.T) {
	ctx := testCtx(t, "op", nil)
	r := CheckPost(AlwaysAllow{}, ctx, map[string]interface{}{}, nil)
	assert.True(t, r.Approved)
}

type fixedStrictness float64

func (f fixedStrictness) Strictness() float64 { return float64(f) }

func TestCELContract(t *testing.T) {
	c, err := NewCELContract("amount_cap", `params.amount < 1000.0 && strictness < 0.9`, fixedStrictness(0.5))
	require.NoError(t, err)

	ok := testCtx(t, "transfer", map[string]interface{}{"amount": 250.0})
	assert.True(t, c.CheckPre(ok, nil).Approved)

	over := testCtx(t, "transfer", map[string]interface{}{"amount": 5000.0})
	r := c.CheckPre(over, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonPreConditionFailed, r.Reason)

	// Strictness above the expression's bound blocks even small amounts.
	tight, err := NewCELContract("amount_cap", `params.amount < 1000.0 && strictness < 0.9`, fixedStrictness(0.95))
	require.NoError(t, err)
	assert.False(t, tight.CheckPre(ok, nil).Approved)
}

func TestCELContractCompileError(t *testing.T) {
	_, err := NewCELContract("broken", `params.amount <`, nil)
	assert.Error(t, err)
}

func TestCELContractEvalErrorDenies(t *testing.T) {
	c, err := NewCELContract("missing_field", `params.absent_key < 10`, nil)
	require.NoError(t, err)

	ctx := testCtx(t, "op", map[string]interface{}{})
	r := c.CheckPre(ctx, nil)
	assert.False(t, r.Approved)
	assert.Equal(t, decision.ReasonInternalError, r.Reason)
}
