package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SecurityProfile is a named enforcement profile loaded from YAML.
// Profiles tune the kernel's default thresholds without code changes;
// they never remove protections, only tighten or (for "light") relax
// numeric limits.
type SecurityProfile struct {
	Name               string   `yaml:"name" json:"name"`
	Level              string   `yaml:"level" json:"level"` // "light" | "full"
	DefaultRiskLimit   float64  `yaml:"default_risk_limit" json:"default_risk_limit"`
	MaxPayloadBytes    int      `yaml:"max_payload_bytes" json:"max_payload_bytes"`
	RequestsPerMinute  int      `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize          int      `yaml:"burst_size" json:"burst_size"`
	FastPathOperations []string `yaml:"fast_path_operations,omitempty" json:"fast_path_operations,omitempty"`
}

// DefaultProfile returns the full-enforcement profile used when no
// profile file is present.
func DefaultProfile() *SecurityProfile {
	return &SecurityProfile{
		Name:              "full",
		Level:             string(SecurityFull),
		DefaultRiskLimit:  0.5,
		MaxPayloadBytes:   1 << 20, // 1 MiB
		RequestsPerMinute: 600,
		BurstSize:         60,
	}
}

// LoadProfile loads profile_<name>.yaml from the profiles directory.
func LoadProfile(profilesDir, name string) (*SecurityProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile SecurityProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	if profile.DefaultRiskLimit <= 0 {
		profile.DefaultRiskLimit = 0.5
	}
	if profile.MaxPayloadBytes <= 0 {
		profile.MaxPayloadBytes = DefaultProfile().MaxPayloadBytes
	}

	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the directory, keyed by
// profile name.
func LoadAllProfiles(profilesDir string) (map[string]*SecurityProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*SecurityProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile SecurityProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}

	return profiles, nil
}
