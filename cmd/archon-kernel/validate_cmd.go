package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/archon-platform/kernel/pkg/manifest"
)

// runValidateCmd loads a manifest through the store, which enforces
// schema validation, version checks, and extends-chain resolution.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("manifest", "", "path to the manifest JSON file")
	env := fs.String("env", "development", "environment overlay to apply")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "validate: -manifest is required")
		return 2
	}

	dir := filepath.Dir(*path)
	name := strings.TrimSuffix(filepath.Base(*path), ".json")

	store := manifest.NewStore(dir, *env, nil)
	m, err := store.Load(name)
	if err != nil {
		fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}

	summary := map[string]interface{}{
		"name":        name,
		"version":     m.Version,
		"environment": *env,
		"domains":     len(m.Domains),
		"operations":  len(m.Operations),
		"valid":       true,
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
	return 0
}
