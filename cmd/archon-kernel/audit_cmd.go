package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/archon-platform/kernel/pkg/audit"
)

// runAuditCmd verifies the hash chain of a persisted audit trail,
// either a JSONL file or a SQLite database.
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	trail := fs.String("trail", "", "path to a JSONL audit trail")
	db := fs.String("db", "", "path to a SQLite audit database")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*trail == "") == (*db == "") {
		fmt.Fprintln(stderr, "audit: exactly one of -trail or -db is required")
		return 2
	}

	var entries []audit.Entry
	var err error
	switch {
	case *trail != "":
		entries, err = audit.ReadFileTrail(*trail)
	default:
		var sink *audit.SQLSink
		sink, err = audit.OpenSQLiteSink(*db)
		if err == nil {
			defer sink.Close()
			entries, err = sink.Load(context.Background())
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}

	if err := audit.VerifyEntries(entries); err != nil {
		fmt.Fprintf(stderr, "audit: chain verification failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "audit trail intact: %d entries\n", len(entries))
	return 0
}
