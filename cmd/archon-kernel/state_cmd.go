package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/archon-platform/kernel/pkg/breaker"
)

// runStateCmd loads persisted circuit breaker state, verifies the
// transition history chain, and prints a summary.
func runStateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", ".", "directory holding circuit_state.json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := os.ReadFile(filepath.Join(*dir, "circuit_state.json"))
	if err != nil {
		fmt.Fprintf(stderr, "state: %v\n", err)
		return 1
	}
	var snap breaker.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		fmt.Fprintf(stderr, "state: corrupt snapshot: %v\n", err)
		return 1
	}
	if err := breaker.VerifyHistory(snap.History); err != nil {
		fmt.Fprintf(stderr, "state: history chain broken: %v\n", err)
		return 1
	}

	summary := map[string]interface{}{
		"level":       snap.CurrentLevel,
		"panic_mode":  snap.PanicMode,
		"strictness":  snap.Strictness,
		"cooldown":    snap.CooldownCycles,
		"transitions": len(snap.History),
		"agents":      len(snap.Reputation),
		"saved_at":    snap.Timestamp,
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
	return 0
}
