package audit

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileSink appends entries as JSON lines to a single file. Lines are
// flushed per write so a crash loses at most the entry being written.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewFileSink opens (or creates) the JSONL trail at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	return &FileSink{file: f, buf: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.buf.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.buf.Flush()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// ReadFileTrail loads a JSONL trail back into entries, for verification
// or replay.
func ReadFileTrail(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode audit line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SQLSink persists entries to a relational table, one row per entry
// with the chain hashes stored alongside the payload.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink wraps an open database handle and ensures the schema.
func NewSQLSink(db *sql.DB) (*SQLSink, error) {
	s := &SQLSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSink opens (or creates) a SQLite-backed sink at path.
func OpenSQLiteSink(path string) (*SQLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewSQLSink(db)
}

func (s *SQLSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		agent_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		domain TEXT NOT NULL,
		approved INTEGER NOT NULL,
		reason TEXT NOT NULL,
		details JSON,
		previous_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	query := `INSERT INTO audit_entries (
		id, timestamp, agent_id, operation, domain, approved, reason, details, previous_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.AgentID, e.Operation,
		e.Domain, e.Approved, e.Reason, string(detailsJSON), e.PreviousHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Load reads the full trail back in insertion order.
func (s *SQLSink) Load(ctx context.Context) ([]Entry, error) {
	query := `
	SELECT id, timestamp, agent_id, operation, domain, approved, reason, details, previous_hash, hash
	FROM audit_entries
	ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			ts, details string
		)
		if err := rows.Scan(&e.ID, &ts, &e.AgentID, &e.Operation, &e.Domain,
			&e.Approved, &e.Reason, &details, &e.PreviousHash, &e.Hash); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database handle.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// failingSink is used by kernel tests to exercise the fail-closed path.
type failingSink struct{ err error }

// NewFailingSink returns a sink whose Write always fails with err.
func NewFailingSink(err error) Sink {
	return failingSink{err: err}
}

func (s failingSink) Write(context.Context, Entry) error { return s.err }
