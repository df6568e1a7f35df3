// Package decision defines the types exchanged across the trusted
// boundary: the per-request execution context, the typed validation
// result, and the closed set of decision reasons.
//
// Internal checks communicate through ValidationResult values; only the
// kernel's public execute entry point converts a denial into an error.
package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/archon-platform/kernel/pkg/canonicalize"
)

// Reason is the closed taxonomy of decision outcomes.
type Reason string

const (
	ReasonApproved Reason = "APPROVED"
	ReasonPending  Reason = "PENDING"

	ReasonDomainDisabled Reason = "DOMAIN_DISABLED"
	ReasonDomainNotFound Reason = "DOMAIN_NOT_FOUND"

	ReasonPermissionDenied Reason = "PERMISSION_DENIED"
	ReasonApprovalRequired Reason = "APPROVAL_REQUIRED"

	ReasonRiskTooHigh         Reason = "RISK_TOO_HIGH"
	ReasonDebateRequired      Reason = "DEBATE_REQUIRED"
	ReasonPreConditionFailed  Reason = "PRE_CONDITION_FAILED"
	ReasonPostConditionFailed Reason = "POST_CONDITION_FAILED"
	ReasonInvariantViolated   Reason = "INVARIANT_VIOLATED"

	ReasonCircuitOpen Reason = "CIRCUIT_OPEN"

	ReasonResourceLimit Reason = "RESOURCE_LIMIT"
	ReasonRateLimited   Reason = "RATE_LIMITED"

	ReasonAuditFailed Reason = "AUDIT_FAILED"

	ReasonInternalError Reason = "INTERNAL_ERROR"
	ReasonTimeout       Reason = "TIMEOUT"
	ReasonUnavailable   Reason = "UNAVAILABLE"

	// ReasonUnknownOperation denies calls outside the whitelist before
	// any other check runs.
	ReasonUnknownOperation Reason = "UNKNOWN_OPERATION"
)

// Severity grades how alarming a denial is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ExecutionContext is the per-request value threaded through validation
// and execution. Created per call, discarded afterwards.
type ExecutionContext struct {
	RequestID  string                 `json:"request_id"`
	AgentID    string                 `json:"agent_id"`
	Operation  string                 `json:"operation"`
	Domain     string                 `json:"domain,omitempty"`
	Parameters map[string]interface{} `json:"parameters"`
	Timestamp  time.Time              `json:"timestamp"`
	Deadline   time.Time              `json:"deadline,omitempty"`

	// IntentContract is a mutable side channel for inter-step
	// annotations, e.g. the resolved manifest risk level.
	IntentContract map[string]interface{} `json:"intent_contract,omitempty"`
}

// NewExecutionContext builds a context with a deterministic request ID
// derived from agent, operation, parameters, and timestamp.
func NewExecutionContext(agentID, operation string, params map[string]interface{}, ts time.Time) (*ExecutionContext, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id must be non-empty")
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	fp, err := canonicalize.Fingerprint(map[string]interface{}{
		"agent":     agentID,
		"operation": operation,
		"params":    params,
		"ts":        ts.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("derive request id: %w", err)
	}

	return &ExecutionContext{
		RequestID:      fp,
		AgentID:        agentID,
		Operation:      operation,
		Parameters:     params,
		Timestamp:      ts,
		IntentContract: map[string]interface{}{},
	}, nil
}

// Annotate records an inter-step annotation on the context.
func (c *ExecutionContext) Annotate(key string, value interface{}) {
	if c.IntentContract == nil {
		c.IntentContract = map[string]interface{}{}
	}
	c.IntentContract[key] = value
}

// ValidationResult is the typed outcome of a single check or of the
// whole pipeline.
type ValidationResult struct {
	Approved    bool                   `json:"approved"`
	Reason      Reason                 `json:"reason"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CheckName   string                 `json:"check_name,omitempty"`
	ElapsedMs   float64                `json:"elapsed_ms"`
	Timestamp   time.Time              `json:"timestamp"`
	Warnings    []string               `json:"warnings,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// Approve constructs an approval result.
func Approve(checkName, message string) ValidationResult {
	return ValidationResult{
		Approved:  true,
		Reason:    ReasonApproved,
		Message:   message,
		Severity:  SeverityLow,
		CheckName: checkName,
		Timestamp: time.Now().UTC(),
	}
}

// Deny constructs a denial result.
func Deny(checkName string, reason Reason, severity Severity, message string) ValidationResult {
	return ValidationResult{
		Approved:  false,
		Reason:    reason,
		Message:   message,
		Severity:  severity,
		CheckName: checkName,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails attaches detail fields, redacting sensitive keys.
func (r ValidationResult) WithDetails(details map[string]interface{}) ValidationResult {
	r.Details = Redact(details)
	return r
}

// sensitiveKeyFragments flags detail keys whose values must never leave
// the boundary in cleartext.
var sensitiveKeyFragments = []string{
	"password", "secret", "token", "api_key", "apikey", "credential", "private_key",
}

// Redact returns a copy of details with sensitive values masked.
// Nested maps are redacted recursively.
func Redact(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = "***REDACTED***"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// PermissionError is the exception-shaped signal raised by the kernel's
// execute entry point when a request is denied and the caller asked for
// a side effect.
type PermissionError struct {
	Reason  Reason
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Envelope is the sanitized error shape returned to agents on denial.
type Envelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	BlockedBy string `json:"blocked_by"`
	Reason    Reason `json:"reason"`
}

// DenialEnvelope wraps a denial for the external caller, with no
// internal details.
func DenialEnvelope(r ValidationResult) Envelope {
	return Envelope{
		Success:   false,
		Error:     r.Message,
		BlockedBy: "kernel",
		Reason:    r.Reason,
	}
}
