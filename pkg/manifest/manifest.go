// Package manifest loads, merges, and serves declarative policy
// documents. A manifest describes which domains are enabled, what each
// operation is allowed to do, and how risky it is considered.
//
// Manifests are JSON files merged in priority order base → project →
// archon, with `extends` chains resolved recursively (children override
// parents by deep-merge) and a single environment overlay applied at
// the top of the merge tree.
package manifest

import "fmt"

// Manifest is the merged policy document served to the kernel.
type Manifest struct {
	Version            string                     `json:"version"`
	Extends            []string                   `json:"extends,omitempty"`
	Domains            map[string]DomainConfig    `json:"domains,omitempty"`
	Operations         map[string]OperationConfig `json:"operations,omitempty"`
	DefaultConstraints *DomainConfig              `json:"default_constraints,omitempty"`
}

// DomainConfig is the per-domain policy entry.
type DomainConfig struct {
	Enabled               bool               `json:"enabled"`
	Priority              int                `json:"priority,omitempty"`
	Thresholds            map[string]float64 `json:"thresholds,omitempty"`
	ForbiddenPatterns     []string           `json:"forbidden_patterns,omitempty"`
	RequiredChecks        []string           `json:"required_checks,omitempty"`
	DebateRequired        bool               `json:"debate_required,omitempty"`
	HumanApprovalRequired bool               `json:"human_approval_required,omitempty"`
}

// RiskThreshold returns the domain's risk threshold, defaulting to 0.5.
func (d DomainConfig) RiskThreshold() float64 {
	if t, ok := d.Thresholds["risk"]; ok {
		return t
	}
	return 0.5
}

// OperationConfig is the per-operation policy entry.
//
// RiskLevel is a pointer so that merging can distinguish "absent" from
// "explicitly zero": read-only operations legitimately carry risk 0.
type OperationConfig struct {
	RiskLevel          *float64 `json:"risk_level,omitempty"`
	RequiredPermission string   `json:"required_permission,omitempty"`
	PreConditions      []string `json:"pre_conditions,omitempty"`
	PostConditions     []string `json:"post_conditions,omitempty"`
	RequiresApproval   bool     `json:"requires_approval,omitempty"`
	FastPathAvailable  bool     `json:"fast_path_available,omitempty"`

	// FallbackContract marks a meta entry that delegates to a registered
	// contract instead of carrying a concrete risk level.
	FallbackContract string `json:"fallback_contract,omitempty"`
}

// Risk returns the operation's risk level, or def when absent.
func (o OperationConfig) Risk(def float64) float64 {
	if o.RiskLevel == nil {
		return def
	}
	return *o.RiskLevel
}

// safeDomainDefaults is served when a domain has neither an exact entry
// nor default_constraints. Enabled but conservative.
func safeDomainDefaults() DomainConfig {
	return DomainConfig{
		Enabled:        true,
		Thresholds:     map[string]float64{"risk": 0.5},
		RequiredChecks: []string{"audit", "rbac"},
	}
}

// LoadError is the typed failure for any manifest that cannot be
// loaded, parsed, or validated. The kernel treats it as fail-closed.
type LoadError struct {
	Name   string
	Detail string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manifest %q: %s: %v", e.Name, e.Detail, e.Err)
	}
	return fmt.Sprintf("manifest %q: %s", e.Name, e.Detail)
}

func (e *LoadError) Unwrap() error { return e.Err }
