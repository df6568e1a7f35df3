// Package audit records every kernel decision as a tamper-evident,
// hash-chained log. Each entry carries the SHA-256 of its canonical
// form plus the hash of its predecessor, so any mutation of a persisted
// trail is detectable. Recording is fail-closed at the caller: the
// kernel denies the request when the trail cannot be written.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archon-platform/kernel/pkg/canonicalize"
)

// Entry is one audited kernel decision.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id"`
	Operation string                 `json:"operation"`
	Domain    string                 `json:"domain"`
	Approved  bool                   `json:"approved"`
	Reason    string                 `json:"reason"`
	Details   map[string]interface{} `json:"details,omitempty"`

	// PreviousHash links this entry to the preceding one.
	PreviousHash string `json:"previous_hash"`

	// Hash is the SHA-256 of this entry's canonical form, PreviousHash
	// included, Hash itself excluded.
	Hash string `json:"hash"`
}

// Record is what callers hand to the log; identity, chaining, and
// hashing are filled in on append.
type Record struct {
	AgentID   string
	Operation string
	Domain    string
	Approved  bool
	Reason    string
	Details   map[string]interface{}
}

// Sink receives finalized entries. Implementations must be safe for
// concurrent use; an error from Write propagates to the kernel as an
// audit failure.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Log is the in-process chain head. Appends are serialized so the
// chain never forks; attached sinks receive every entry in order.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	clock   func() time.Time
	sinks   []Sink
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithSink attaches a sink. May be passed multiple times.
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// NewLog creates an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append finalizes a record, links it to the chain, and fans it out to
// the sinks. The entry joins the chain before the sinks run: a sink
// failure surfaces as an error (the caller denies the request) but the
// in-memory trail still shows the attempt.
func (l *Log) Append(ctx context.Context, rec Record) (*Entry, error) {
	l.mu.Lock()
	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}

	entry := Entry{
		ID:           uuid.New().String(),
		Timestamp:    l.clock().UTC(),
		AgentID:      rec.AgentID,
		Operation:    rec.Operation,
		Domain:       rec.Domain,
		Approved:     rec.Approved,
		Reason:       rec.Reason,
		Details:      rec.Details,
		PreviousHash: prevHash,
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("hash audit entry: %w", err)
	}
	entry.Hash = hash
	l.entries = append(l.entries, entry)
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Write(ctx, entry); err != nil {
			return &entry, fmt.Errorf("audit sink write: %w", err)
		}
	}
	return &entry, nil
}

// Entries returns a copy of the in-memory chain.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// VerifyChain checks the in-memory chain's integrity.
func (l *Log) VerifyChain() error {
	return VerifyEntries(l.Entries())
}

// VerifyEntries checks link and content integrity of an entry sequence,
// typically one reloaded from a sink.
func VerifyEntries(entries []Entry) error {
	for i, e := range entries {
		if i == 0 {
			if e.PreviousHash != "" {
				return fmt.Errorf("genesis entry has non-empty previous hash")
			}
		} else if e.PreviousHash != entries[i-1].Hash {
			return fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
		}

		computed, err := computeEntryHash(e)
		if err != nil {
			return fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computed != e.Hash {
			return fmt.Errorf("integrity failure at index %d", i)
		}
	}
	return nil
}

func computeEntryHash(e Entry) (string, error) {
	e.Hash = ""
	return canonicalize.Hash(e)
}
