package breaker

import (
	"fmt"
	"time"
)

// AutonomyLevel indicates how restrictive the kernel currently is,
// ordered by restrictiveness.
type AutonomyLevel int

const (
	LevelGreen AutonomyLevel = iota
	LevelAmber
	LevelRed
	LevelBlack
)

func (l AutonomyLevel) String() string {
	switch l {
	case LevelGreen:
		return "GREEN"
	case LevelAmber:
		return "AMBER"
	case LevelRed:
		return "RED"
	case LevelBlack:
		return "BLACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
}

// ParseLevel converts the persisted string form back to a level.
func ParseLevel(s string) (AutonomyLevel, error) {
	switch s {
	case "GREEN":
		return LevelGreen, nil
	case "AMBER":
		return LevelAmber, nil
	case "RED":
		return LevelRed, nil
	case "BLACK":
		return LevelBlack, nil
	default:
		return LevelGreen, fmt.Errorf("unknown autonomy level %q", s)
	}
}

// PanicMode is the emergency axis, orthogonal to the autonomy level.
type PanicMode int

const (
	PanicNormal PanicMode = iota
	PanicElevated
	PanicPanic
)

func (m PanicMode) String() string {
	switch m {
	case PanicNormal:
		return "NORMAL"
	case PanicElevated:
		return "ELEVATED"
	case PanicPanic:
		return "PANIC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}

// ParsePanicMode converts the persisted string form back to a mode.
func ParsePanicMode(s string) (PanicMode, error) {
	switch s {
	case "NORMAL":
		return PanicNormal, nil
	case "ELEVATED":
		return PanicElevated, nil
	case "PANIC":
		return PanicPanic, nil
	default:
		return PanicNormal, fmt.Errorf("unknown panic mode %q", s)
	}
}

// readOnlyOperations are the declared read-only operations permitted at
// RED. monitoringOperations is the strict subset permitted at BLACK.
var readOnlyOperations = map[string]struct{}{
	"read_file": {}, "list_files": {}, "get_status": {}, "get_stats": {},
	"health_check": {}, "get_metrics": {}, "query_state": {},
}

var monitoringOperations = map[string]struct{}{
	"get_status": {}, "health_check": {}, "get_metrics": {},
}

// IsReadOnly reports whether op is in the declared read-only set.
func IsReadOnly(op string) bool {
	_, ok := readOnlyOperations[op]
	return ok
}

// AllowedAtLevel applies the per-level permission matrix. AMBER's
// approval requirement depends on manifest data and is enforced by the
// kernel's circuit check, not here.
func AllowedAtLevel(level AutonomyLevel, op string) bool {
	switch level {
	case LevelGreen, LevelAmber:
		return true
	case LevelRed:
		_, ok := readOnlyOperations[op]
		return ok
	case LevelBlack:
		_, ok := monitoringOperations[op]
		return ok
	default:
		return false
	}
}

// RecordHostActivity notes that the host is present. Any activity
// de-escalates to GREEN immediately, with an audited transition.
func (b *Breaker) RecordHostActivity(action string) {
	b.mu.Lock()
	now := b.clock()
	b.hostActivity.lastSeen = now
	b.hostActivity.lastAction = action
	b.hostActivity.history = append(b.hostActivity.history, hostActivityEntry{
		Timestamp: now.UTC(),
		Action:    action,
	})
	fire := func() {}
	if b.level != LevelGreen {
		fire = b.transitionLevelLocked(LevelGreen, "host activity observed: "+action)
	}
	b.mu.Unlock()
	fire()
}

// HostSilence returns how long the host has been silent.
func (b *Breaker) HostSilence() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock().Sub(b.hostActivity.lastSeen)
}

// EvaluateAutonomy advances the autonomy machine one step based on host
// silence and the last reported system state. Called on a tick.
func (b *Breaker) EvaluateAutonomy() AutonomyLevel {
	b.mu.Lock()
	silence := b.clock().Sub(b.hostActivity.lastSeen)
	state := b.systemState
	fire := func() {}

	blackThreshold := b.cfg.BlackCriticalFactor * b.cfg.RedCriticalIssues
	switch {
	case state.CriticalIssues >= blackThreshold:
		fire = b.transitionLevelLocked(LevelBlack,
			fmt.Sprintf("critical issues %d >= %d", state.CriticalIssues, blackThreshold))
	case b.level == LevelAmber && silence >= b.cfg.RedSilence && state.CriticalIssues >= b.cfg.RedCriticalIssues:
		fire = b.transitionLevelLocked(LevelRed,
			fmt.Sprintf("host silent %s with %d critical issues", silence.Round(time.Minute), state.CriticalIssues))
	case b.level == LevelGreen && silence >= b.cfg.AmberSilence && state.BacklogSize >= b.cfg.AmberBacklog:
		fire = b.transitionLevelLocked(LevelAmber,
			fmt.Sprintf("host silent %s with backlog %d", silence.Round(time.Minute), state.BacklogSize))
	}

	level := b.level
	b.mu.Unlock()
	fire()
	return level
}

// SetLevel is the audited admin override. It changes the autonomy level
// only: an override during panic does not clear panic, which exits
// solely through its own cooldown.
func (b *Breaker) SetLevel(level AutonomyLevel, actor string) {
	b.mu.Lock()
	fire := b.transitionLevelLocked(level, "admin override by "+actor)
	b.mu.Unlock()
	fire()
}

type hostActivity struct {
	lastSeen   time.Time
	lastAction string
	history    []hostActivityEntry
}

type hostActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
}
