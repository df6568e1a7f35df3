package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("SECURITY_LEVEL", "")
	t.Setenv("MANIFEST_DIR", "")
	t.Setenv("AUDIT_DIR", "")
	t.Setenv("CIRCUIT_BREAKER_DIR", "")

	cfg := Load()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, SecurityFull, cfg.SecurityLevel)
	assert.Equal(t, "manifests", cfg.ManifestDir)
	assert.Equal(t, "audit", cfg.AuditDir)
	assert.Equal(t, "circuit_breaker", cfg.CircuitBreakerDir)
	assert.True(t, cfg.AuditFailClosed)
}

func TestLoadUnknownSecurityLevelIsFull(t *testing.T) {
	t.Setenv("SECURITY_LEVEL", "paranoid")
	cfg := Load()
	assert.Equal(t, SecurityFull, cfg.SecurityLevel)
}

func TestLoadLightSecurityLevel(t *testing.T) {
	t.Setenv("SECURITY_LEVEL", "light")
	cfg := Load()
	assert.Equal(t, SecurityLight, cfg.SecurityLevel)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
name: light
level: light
default_risk_limit: 0.75
max_payload_bytes: 2097152
requests_per_minute: 1200
burst_size: 100
fast_path_operations:
  - read_file
  - get_status
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_light.yaml"), content, 0o644))

	p, err := LoadProfile(dir, "LIGHT")
	require.NoError(t, err)
	assert.Equal(t, "light", p.Name)
	assert.Equal(t, 0.75, p.DefaultRiskLimit)
	assert.Equal(t, 2097152, p.MaxPayloadBytes)
	assert.Equal(t, []string{"read_file", "get_status"}, p.FastPathOperations)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestLoadProfileDefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_bare.yaml"), []byte("level: full\n"), 0o644))

	p, err := LoadProfile(dir, "bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", p.Name)
	assert.Equal(t, 0.5, p.DefaultRiskLimit)
	assert.Equal(t, DefaultProfile().MaxPayloadBytes, p.MaxPayloadBytes)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_a.yaml"), []byte("name: a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_b.yaml"), []byte("name: b\n"), 0o644))

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Contains(t, profiles, "a")
	assert.Contains(t, profiles, "b")
}
