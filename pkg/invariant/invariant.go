// Package invariant holds the always-on safety predicates of the
// execution kernel. Every registered invariant runs against the payload
// both before and after an operation executes; a pre-execution failure
// blocks the call, a post-execution failure marks the operation as
// tampering-suspected and blocks its result.
//
// Predicates are deterministic and pure: same payload, same answer.
package invariant

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Predicate inspects a payload and returns false on violation.
type Predicate func(payload map[string]interface{}) bool

// Named pairs a predicate with its stable name for audit records.
type Named struct {
	Name  string
	Check Predicate
}

// Registry is an ordered, append-only collection of invariants.
// Invariants can be added at runtime but never removed; the safety
// floor only rises.
type Registry struct {
	mu         sync.RWMutex
	invariants []Named
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// NewBuiltinRegistry creates a registry preloaded with the standard
// safety set, with maxPayloadBytes as the size cap.
func NewBuiltinRegistry(maxPayloadBytes int, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("no_code_injection", NoCodeInjection)
	r.Register("no_shell_injection", NoShellInjection)
	r.Register("no_protected_path_access", NoProtectedPathAccess)
	r.Register("no_hardcoded_secrets", NoHardcodedSecrets)
	r.Register("max_operation_size", MaxOperationSize(maxPayloadBytes))
	return r
}

// Register appends an invariant. Duplicate names are rejected so audit
// records stay unambiguous.
func (r *Registry) Register(name string, check Predicate) error {
	if name == "" || check == nil {
		return fmt.Errorf("invariant requires a name and a predicate")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invariants {
		if inv.Name == name {
			return fmt.Errorf("invariant %q already registered", name)
		}
	}
	r.invariants = append(r.invariants, Named{Name: name, Check: check})
	r.logger.Debug("invariant registered", zap.String("name", name))
	return nil
}

// Check runs every invariant in registration order and returns the name
// of the first violated one, or "" when all hold.
func (r *Registry) Check(payload map[string]interface{}) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inv := range r.invariants {
		if !inv.Check(payload) {
			return inv.Name
		}
	}
	return ""
}

// Names returns the registered invariant names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.invariants))
	for i, inv := range r.invariants {
		names[i] = inv.Name
	}
	return names
}

// Len returns the number of registered invariants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.invariants)
}
