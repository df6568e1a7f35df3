// Package config loads kernel configuration from environment variables
// and security-profile files.
package config

import (
	"os"
	"time"
)

// SecurityLevel selects how aggressively the kernel enforces thresholds.
type SecurityLevel string

const (
	// SecurityLight relaxes risk thresholds by 1.5x. Development only.
	SecurityLight SecurityLevel = "light"
	// SecurityFull is the production default.
	SecurityFull SecurityLevel = "full"
)

// Config holds kernel process configuration.
type Config struct {
	Environment       string
	SecurityLevel     SecurityLevel
	ManifestDir       string
	AuditDir          string
	CircuitBreakerDir string

	// AuditFailClosed blocks operations when the audit sink fails.
	AuditFailClosed bool

	// DefaultDeadline bounds each request when the caller supplies none.
	DefaultDeadline time.Duration
}

// Load reads configuration from environment variables, falling back to
// documented defaults for anything unset.
func Load() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	level := SecurityLevel(os.Getenv("SECURITY_LEVEL"))
	if level != SecurityLight {
		// Anything other than an explicit "light" is treated as full
		// enforcement. Unknown values must not weaken the boundary.
		level = SecurityFull
	}

	manifestDir := os.Getenv("MANIFEST_DIR")
	if manifestDir == "" {
		manifestDir = "manifests"
	}

	auditDir := os.Getenv("AUDIT_DIR")
	if auditDir == "" {
		auditDir = "audit"
	}

	breakerDir := os.Getenv("CIRCUIT_BREAKER_DIR")
	if breakerDir == "" {
		breakerDir = "circuit_breaker"
	}

	return &Config{
		Environment:       env,
		SecurityLevel:     level,
		ManifestDir:       manifestDir,
		AuditDir:          auditDir,
		CircuitBreakerDir: breakerDir,
		AuditFailClosed:   true,
		DefaultDeadline:   30 * time.Second,
	}
}
