// Command archon-kernel is the operator CLI for the execution kernel:
// manifest validation, a self-check that drives a request through the
// full decision pipeline, audit trail verification, and circuit state
// inspection.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "selfcheck":
		return runSelfcheckCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "state":
		return runStateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: archon-kernel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  validate   Validate a policy manifest against the schema")
	fmt.Fprintln(w, "  selfcheck  Run a request through the full decision pipeline")
	fmt.Fprintln(w, "  audit      Verify an audit trail's hash chain")
	fmt.Fprintln(w, "  state      Inspect persisted circuit breaker state")
	fmt.Fprintln(w, "  help       Show this message")
}
