package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/archon-platform/kernel/pkg/canonicalize"
)

const (
	stateFileName        = "circuit_state.json"
	hostActivityFileName = "host_activity.json"
)

// Snapshot is the persisted form of the breaker state. The history is
// hash-chained, so a reloaded snapshot can be verified before use.
type Snapshot struct {
	CurrentLevel   string                     `json:"current_level"`
	PanicMode      string                     `json:"panic_mode"`
	Strictness     float64                    `json:"strictness"`
	CooldownCycles int                        `json:"cooldown_cycles"`
	SystemState    SystemState                `json:"system_state"`
	History        []TransitionRecord         `json:"history"`
	Reputation     map[string]AgentReputation `json:"reputation,omitempty"`
	Timestamp      time.Time                  `json:"timestamp"`
}

func (b *Breaker) snapshotLocked() Snapshot {
	history := make([]TransitionRecord, len(b.history))
	copy(history, b.history)
	return Snapshot{
		CurrentLevel:   b.level.String(),
		PanicMode:      b.panicMode.String(),
		Strictness:     b.strictness,
		CooldownCycles: b.cooldownCycles,
		SystemState:    b.systemState,
		History:        history,
		Reputation:     b.reputation.all(),
		Timestamp:      b.clock().UTC(),
	}
}

// hashTransition hashes the canonical form of a record with its Hash
// field cleared, chaining through PrevHash.
func hashTransition(rec TransitionRecord) string {
	rec.Hash = ""
	h, err := canonicalize.Hash(rec)
	if err != nil {
		// Marshalling a plain struct of strings and a time cannot fail.
		panic(fmt.Sprintf("hash transition record: %v", err))
	}
	return h
}

// VerifyHistory walks a transition history and checks every link of the
// hash chain. An empty history is valid.
func VerifyHistory(history []TransitionRecord) error {
	prev := ""
	for i, rec := range history {
		if rec.PrevHash != prev {
			return fmt.Errorf("history entry %d: prev_hash mismatch", i)
		}
		if hashTransition(rec) != rec.Hash {
			return fmt.Errorf("history entry %d: hash mismatch", i)
		}
		prev = rec.Hash
	}
	return nil
}

// SaveState writes the current snapshot and the host activity log to
// dir. Writes go through a temp file and rename so a crash never
// leaves a truncated state file.
func (b *Breaker) SaveState(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	b.mu.Lock()
	snap := b.snapshotLocked()
	activity := hostActivityRecord{
		LastSeen:   b.hostActivity.lastSeen.UTC(),
		LastAction: b.hostActivity.lastAction,
		History:    append([]hostActivityEntry(nil), b.hostActivity.history...),
	}
	b.mu.Unlock()

	if err := writeJSONAtomic(filepath.Join(dir, stateFileName), snap); err != nil {
		return fmt.Errorf("save circuit state: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, hostActivityFileName), activity); err != nil {
		return fmt.Errorf("save host activity: %w", err)
	}
	return nil
}

// LoadState restores a persisted snapshot into the breaker. The history
// chain is verified first; a corrupt file is rejected and the breaker
// keeps its current state. Missing files are not an error: a fresh
// deployment simply starts at GREEN.
func (b *Breaker) LoadState(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read circuit state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode circuit state: %w", err)
	}
	if err := VerifyHistory(snap.History); err != nil {
		return fmt.Errorf("circuit state history: %w", err)
	}
	level, err := ParseLevel(snap.CurrentLevel)
	if err != nil {
		return fmt.Errorf("circuit state: %w", err)
	}
	mode, err := ParsePanicMode(snap.PanicMode)
	if err != nil {
		return fmt.Errorf("circuit state: %w", err)
	}

	b.mu.Lock()
	b.level = level
	b.panicMode = mode
	b.strictness = clamp(0, 1, snap.Strictness)
	b.cooldownCycles = snap.CooldownCycles
	b.systemState = snap.SystemState
	b.history = snap.History
	b.mu.Unlock()
	if len(snap.Reputation) > 0 {
		b.reputation.restore(snap.Reputation)
	}

	activityRaw, err := os.ReadFile(filepath.Join(dir, hostActivityFileName))
	if err == nil {
		var activity hostActivityRecord
		if err := json.Unmarshal(activityRaw, &activity); err != nil {
			return fmt.Errorf("decode host activity: %w", err)
		}
		b.mu.Lock()
		b.hostActivity.lastSeen = activity.LastSeen
		b.hostActivity.lastAction = activity.LastAction
		b.hostActivity.history = activity.History
		b.mu.Unlock()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read host activity: %w", err)
	}
	return nil
}

type hostActivityRecord struct {
	LastSeen   time.Time           `json:"last_seen"`
	LastAction string              `json:"last_action"`
	History    []hostActivityEntry `json:"history"`
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
