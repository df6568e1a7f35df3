package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/archon-platform/kernel/pkg/audit"
	"github.com/archon-platform/kernel/pkg/breaker"
	"github.com/archon-platform/kernel/pkg/config"
	"github.com/archon-platform/kernel/pkg/decision"
	"github.com/archon-platform/kernel/pkg/invariant"
	"github.com/archon-platform/kernel/pkg/kernel"
	"github.com/archon-platform/kernel/pkg/manifest"
)

// selfcheckManifest is the policy used when no manifest is supplied:
// one enabled domain, one low-risk probe operation.
const selfcheckManifest = `{
  "version": "1.0.0",
  "domains": {
    "diagnostics": {"enabled": true}
  },
  "operations": {
    "ping": {"risk_level": 0.1, "fast_path_available": true},
    "forbidden_probe": {"risk_level": 0.9}
  }
}`

// runSelfcheckCmd wires a full kernel in memory, registers a probe
// operation, and drives three requests through the pipeline: an
// expected approval, an expected denial, and an unregistered
// operation. Exit 0 means all three behaved as required.
func runSelfcheckCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	fs := flag.NewFlagSet("selfcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", "", "optional manifest to check against (defaults to a built-in)")
	env := fs.String("env", cfg.Environment, "environment overlay to apply")
	profileDir := fs.String("profiles", "", "optional security profile directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	profile := config.DefaultProfile()
	if *profileDir != "" {
		loaded, err := config.LoadProfile(*profileDir, string(cfg.SecurityLevel))
		if err != nil {
			fmt.Fprintf(stderr, "selfcheck: %v\n", err)
			return 1
		}
		profile = loaded
	}

	dir, name, cleanup, err := selfcheckManifestDir(*manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "selfcheck: %v\n", err)
		return 1
	}
	defer cleanup()

	store := manifest.NewStore(dir, *env, nil)
	brk := breaker.New(breaker.DefaultConfig())
	auditLog := audit.NewLog()
	invariants := invariant.NewBuiltinRegistry(1<<20, nil)

	k := kernel.New(store, name, brk, auditLog, invariants,
		kernel.WithSecurityLevel(profile.Level),
		kernel.WithDefaultRiskThreshold(profile.DefaultRiskLimit),
		kernel.WithMaxPayloadBytes(profile.MaxPayloadBytes),
		kernel.WithAuditFailClosed(cfg.AuditFailClosed),
		kernel.WithDefaultDeadline(cfg.DefaultDeadline),
		kernel.WithLimiter(kernel.NewLocalLimiterStore(profile.RequestsPerMinute, profile.BurstSize)),
		kernel.WithFastPath("ping"))
	k.RegisterOperation("ping", func(params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"pong": true}, nil
	}, "diagnostic probe")

	ctx := context.Background()
	report := map[string]interface{}{}
	failed := false

	if _, err := k.Execute(ctx, kernel.Request{
		Operation: "ping", AgentID: "selfcheck", Domain: "diagnostics",
	}); err != nil {
		report["approve_probe"] = fmt.Sprintf("FAIL: %v", err)
		failed = true
	} else {
		report["approve_probe"] = "ok"
	}

	var perm *decision.PermissionError
	_, err = k.Execute(ctx, kernel.Request{
		Operation: "forbidden_probe", AgentID: "selfcheck", Domain: "diagnostics",
	})
	switch {
	case err == nil:
		report["deny_probe"] = "FAIL: high-risk operation was approved"
		failed = true
	case errors.As(err, &perm) && perm.Reason == decision.ReasonUnknownOperation:
		report["deny_probe"] = "ok (unregistered)"
	case errors.As(err, &perm):
		report["deny_probe"] = fmt.Sprintf("ok (%s)", perm.Reason)
	default:
		report["deny_probe"] = fmt.Sprintf("FAIL: untyped error %v", err)
		failed = true
	}

	_, err = k.Execute(ctx, kernel.Request{
		Operation: "never_registered", AgentID: "selfcheck",
	})
	if errors.As(err, &perm) && perm.Reason == decision.ReasonUnknownOperation {
		report["whitelist_closure"] = "ok"
	} else {
		report["whitelist_closure"] = fmt.Sprintf("FAIL: %v", err)
		failed = true
	}

	if verr := auditLog.VerifyChain(); verr != nil {
		report["audit_chain"] = fmt.Sprintf("FAIL: %v", verr)
		failed = true
	} else {
		report["audit_chain"] = fmt.Sprintf("ok (%d entries)", auditLog.Len())
	}
	report["stats"] = k.GetStats()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if failed {
		return 1
	}
	return 0
}

// selfcheckManifestDir resolves the manifest location: the supplied
// file's directory, or a temp dir seeded with the built-in policy.
func selfcheckManifestDir(path string) (dir, name string, cleanup func(), err error) {
	if path != "" {
		return filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), ".json"), func() {}, nil
	}
	dir, err = os.MkdirTemp("", "archon-selfcheck-*")
	if err != nil {
		return "", "", nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "selfcheck.json"), []byte(selfcheckManifest), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", nil, err
	}
	return dir, "selfcheck", func() { _ = os.RemoveAll(dir) }, nil
}
