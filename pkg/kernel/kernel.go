// Package kernel is the orchestrating trusted boundary: every
// agent-initiated operation passes through its validation pipeline and
// whitelist before the registered callable runs. Denials are typed and
// fail-closed; the kernel performs no I/O of its own beyond manifest
// reads, breaker state persistence, and audit emission.
package kernel

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/archon-platform/kernel/pkg/audit"
	"github.com/archon-platform/kernel/pkg/breaker"
	"github.com/archon-platform/kernel/pkg/contract"
	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/invariant"
	"github.com/archon-platform/kernel/pkg/manifest"
	"github.com/archon-platform/kernel/pkg/observability"
)

// Callable is an opaque registered operation. It is never invoked
// except through Execute.
type Callable func(params map[string]interface{}) (interface{}, error)

// OperationRegistration is one whitelist entry.
type OperationRegistration struct {
	Name         string
	Callable     Callable
	Description  string
	RegisteredAt time.Time
}

// Stats is the kernel's decision counters snapshot.
type Stats struct {
	TotalRequests   int                     `json:"total_requests"`
	Approved        int                     `json:"approved"`
	Denied          int                     `json:"denied"`
	FastPathHits    int                     `json:"fast_path_hits"`
	DenialsByReason map[decision.Reason]int `json:"denials_by_reason"`
	CurrentLevel    string                  `json:"current_level"`
	PanicMode       string                  `json:"panic_mode"`
	SecurityLevel   string                  `json:"security_level"`
}

// Kernel is the orchestrator. Safe for concurrent use: the operation
// registry is guarded by a writer lock, counters by their own mutex,
// and all other state lives in the injected components.
type Kernel struct {
	logger *zap.Logger
	clock  func() time.Time

	manifests    *manifest.Store
	manifestName string
	breaker      *breaker.Breaker
	auditLog     *audit.Log
	invariants   *invariant.Registry
	limiter      LimiterStore

	securityLevel        string
	defaultRiskThreshold float64
	auditFailClosed      bool
	maxPayloadBytes      int
	defaultDeadline      time.Duration
	permissionCheck      contract.PermissionFunc

	fastPathEnabled bool
	fastPathOps     map[string]struct{}

	telemetry *observability.Provider

	opMu       sync.RWMutex
	operations map[string]*OperationRegistration
	contracts  map[string]contract.Contract

	// namedConditions resolves manifest declarative pre-condition names
	// to contract nodes. Names outside this table fail closed.
	namedConditions map[string]contract.Contract

	statsMu         sync.Mutex
	totalRequests   int
	approved        int
	denied          int
	fastPathHits    int
	denialsByReason map[decision.Reason]int
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(k *Kernel) { k.clock = clock }
}

// WithSecurityLevel sets "light" or "full". Light halves the effective
// risk bar's strictness by widening the threshold 1.5x.
func WithSecurityLevel(level string) Option {
	return func(k *Kernel) { k.securityLevel = level }
}

// WithDefaultRiskThreshold sets the base of the risk threshold formula.
func WithDefaultRiskThreshold(t float64) Option {
	return func(k *Kernel) {
		if t > 0 {
			k.defaultRiskThreshold = t
		}
	}
}

// WithFastPath enables the validation short-circuit for the named
// operations. Invariants, whitelist, and contracts still run.
func WithFastPath(ops ...string) Option {
	return func(k *Kernel) {
		k.fastPathEnabled = true
		for _, op := range ops {
			k.fastPathOps[op] = struct{}{}
		}
	}
}

// WithAuditFailClosed controls whether an audit write failure blocks
// the request. Defaults to true.
func WithAuditFailClosed(v bool) Option {
	return func(k *Kernel) { k.auditFailClosed = v }
}

// WithPermissionChecker injects the upstream identity layer's
// permission test. Without one, operations that declare a required
// permission are denied.
func WithPermissionChecker(fn contract.PermissionFunc) Option {
	return func(k *Kernel) { k.permissionCheck = fn }
}

// WithLimiter injects the per-agent rate limiter used by the resource
// check. Without one, rate limiting is skipped.
func WithLimiter(store LimiterStore) Option {
	return func(k *Kernel) { k.limiter = store }
}

// WithTelemetry attaches an OpenTelemetry provider for decision
// counters and validation latency. Optional; nil is a no-op.
func WithTelemetry(p *observability.Provider) Option {
	return func(k *Kernel) { k.telemetry = p }
}

// WithMaxPayloadBytes caps the serialized payload size.
func WithMaxPayloadBytes(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.maxPayloadBytes = n
		}
	}
}

// WithDefaultDeadline sets the per-request deadline budget.
func WithDefaultDeadline(d time.Duration) Option {
	return func(k *Kernel) {
		if d > 0 {
			k.defaultDeadline = d
		}
	}
}

// New wires a kernel from its component parts. The manifest named
// manifestName is the policy document consulted for every request.
func New(manifests *manifest.Store, manifestName string, brk *breaker.Breaker, auditLog *audit.Log, invariants *invariant.Registry, opts ...Option) *Kernel {
	k := &Kernel{
		logger:               zap.NewNop(),
		clock:                time.Now,
		manifests:            manifests,
		manifestName:         manifestName,
		breaker:              brk,
		auditLog:             auditLog,
		invariants:           invariants,
		securityLevel:        "full",
		defaultRiskThreshold: 0.5,
		auditFailClosed:      true,
		maxPayloadBytes:      1 << 20,
		defaultDeadline:      30 * time.Second,
		fastPathOps:          map[string]struct{}{},
		operations:           map[string]*OperationRegistration{},
		contracts:            map[string]contract.Contract{},
		denialsByReason:      map[decision.Reason]int{},
	}
	k.namedConditions = map[string]contract.Contract{
		"domain_enabled":    contract.RequireDomainEnabled{},
		"protected_path":    contract.ProtectedPathCheck{},
		"manifest_contract": contract.RequireManifestContract{},
		"code_sanitizer":    contract.NewCodeSanitizer(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// RegisterOperation adds a callable to the whitelist. Re-registering a
// name replaces the previous entry.
func (k *Kernel) RegisterOperation(name string, fn Callable, description string) {
	k.opMu.Lock()
	defer k.opMu.Unlock()
	k.operations[name] = &OperationRegistration{
		Name:         name,
		Callable:     fn,
		Description:  description,
		RegisteredAt: k.clock().UTC(),
	}
	k.logger.Info("operation registered", zap.String("operation", name))
}

// UnregisterOperation removes a callable from the whitelist. Emergency
// disable: in-flight requests that already passed the whitelist check
// are unaffected.
func (k *Kernel) UnregisterOperation(name string) {
	k.opMu.Lock()
	defer k.opMu.Unlock()
	delete(k.operations, name)
	k.logger.Warn("operation unregistered", zap.String("operation", name))
}

// RegisterContract attaches an Intent Contract to an operation. The
// registered contract takes precedence over the manifest's declarative
// pre-conditions.
func (k *Kernel) RegisterContract(op string, c contract.Contract) {
	k.opMu.Lock()
	defer k.opMu.Unlock()
	k.contracts[op] = c
}

// AddInvariant registers an always-on predicate, run before and after
// every execution.
func (k *Kernel) AddInvariant(name string, pred invariant.Predicate) error {
	return k.invariants.Register(name, pred)
}

// SetCircuitState is the audited admin override of the autonomy level.
func (k *Kernel) SetCircuitState(level breaker.AutonomyLevel, actor string) {
	k.breaker.SetLevel(level, actor)
	k.logger.Warn("circuit level override",
		zap.String("level", level.String()),
		zap.String("actor", actor))
}

// GetStats returns a snapshot of the decision counters.
func (k *Kernel) GetStats() Stats {
	k.statsMu.Lock()
	defer k.statsMu.Unlock()

	byReason := make(map[decision.Reason]int, len(k.denialsByReason))
	for r, n := range k.denialsByReason {
		byReason[r] = n
	}
	return Stats{
		TotalRequests:   k.totalRequests,
		Approved:        k.approved,
		Denied:          k.denied,
		FastPathHits:    k.fastPathHits,
		DenialsByReason: byReason,
		CurrentLevel:    k.breaker.Level().String(),
		PanicMode:       k.breaker.Mode().String(),
		SecurityLevel:   k.securityLevel,
	}
}

func (k *Kernel) lookupOperation(name string) (*OperationRegistration, bool) {
	k.opMu.RLock()
	defer k.opMu.RUnlock()
	reg, ok := k.operations[name]
	return reg, ok
}

func (k *Kernel) lookupContract(op string) (contract.Contract, bool) {
	k.opMu.RLock()
	defer k.opMu.RUnlock()
	c, ok := k.contracts[op]
	return c, ok
}

func (k *Kernel) countApproval(fastPath bool) {
	k.statsMu.Lock()
	defer k.statsMu.Unlock()
	k.totalRequests++
	k.approved++
	if fastPath {
		k.fastPathHits++
	}
}

func (k *Kernel) countDenial(reason decision.Reason) {
	k.statsMu.Lock()
	defer k.statsMu.Unlock()
	k.totalRequests++
	k.denied++
	k.denialsByReason[reason]++
}
