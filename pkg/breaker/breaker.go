// Package breaker implements the Dynamic Circuit Breaker: a graduated
// autonomy state machine that tightens kernel restrictions as host
// inactivity and failure signals accumulate, combined with a
// reputation-weighted risk scorer driven by rolling rejection metrics.
//
// Two orthogonal state variables govern the breaker. The autonomy level
// (GREEN/AMBER/RED/BLACK) reacts to host silence and system health; the
// panic/strictness machine reacts to the rejection-rate stream. An
// admin level override never clears panic; panic exits only through
// its own cooldown.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the tunable thresholds of the breaker. Zero values are
// replaced by defaults in New.
type Config struct {
	// Strictness machine.
	PanicThreshold float64 // window rejection rate that triggers panic (default 0.8)
	HighThreshold  float64 // rate above which strictness rises (default 0.3)
	LowThreshold   float64 // rate below which strictness relaxes (default 0.1)
	MaxAdjustStep  float64 // per-tick strictness delta (default 0.1)
	MinPanicCycles int     // minimum panic dwell in ticks (default 3)

	// Metrics window.
	WindowDuration time.Duration // snapshot duration D (default 60s)
	MaxWindows     int           // retained snapshots W (default 10)

	// Risk decision.
	AgentStrictnessMultiplier float64            // base of the reputation multiplier (default 1.5)
	DefaultOperationThreshold float64            // acceptance threshold when no per-op entry (default 0.7)
	OperationThresholds       map[string]float64 // per-operation acceptance thresholds
	BaseRisks                 map[string]float64 // per-operation base risk
	DefaultBaseRisk           float64            // base risk for unknown operations (default 0.5)

	// Autonomy machine.
	AmberSilence        time.Duration // host silence before GREEN→AMBER (default 2h)
	AmberBacklog        int           // backlog size before GREEN→AMBER (default 5)
	RedSilence          time.Duration // host silence before AMBER→RED (default 6h)
	RedCriticalIssues   int           // critical issues before AMBER→RED (default 1)
	BlackCriticalFactor int           // BLACK at critical ≥ factor·RedCriticalIssues (default 2)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PanicThreshold:            0.8,
		HighThreshold:             0.3,
		LowThreshold:              0.1,
		MaxAdjustStep:             0.1,
		MinPanicCycles:            3,
		WindowDuration:            60 * time.Second,
		MaxWindows:                10,
		AgentStrictnessMultiplier: 1.5,
		DefaultOperationThreshold: 0.7,
		DefaultBaseRisk:           0.5,
		AmberSilence:              2 * time.Hour,
		AmberBacklog:              5,
		RedSilence:                6 * time.Hour,
		RedCriticalIssues:         1,
		BlackCriticalFactor:       2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PanicThreshold <= 0 {
		c.PanicThreshold = d.PanicThreshold
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = d.HighThreshold
	}
	if c.LowThreshold <= 0 {
		c.LowThreshold = d.LowThreshold
	}
	if c.MaxAdjustStep <= 0 {
		c.MaxAdjustStep = d.MaxAdjustStep
	}
	if c.MinPanicCycles <= 0 {
		c.MinPanicCycles = d.MinPanicCycles
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = d.WindowDuration
	}
	if c.MaxWindows <= 0 {
		c.MaxWindows = d.MaxWindows
	}
	if c.AgentStrictnessMultiplier <= 0 {
		c.AgentStrictnessMultiplier = d.AgentStrictnessMultiplier
	}
	if c.DefaultOperationThreshold <= 0 {
		c.DefaultOperationThreshold = d.DefaultOperationThreshold
	}
	if c.DefaultBaseRisk <= 0 {
		c.DefaultBaseRisk = d.DefaultBaseRisk
	}
	if c.AmberSilence <= 0 {
		c.AmberSilence = d.AmberSilence
	}
	if c.AmberBacklog <= 0 {
		c.AmberBacklog = d.AmberBacklog
	}
	if c.RedSilence <= 0 {
		c.RedSilence = d.RedSilence
	}
	if c.RedCriticalIssues <= 0 {
		c.RedCriticalIssues = d.RedCriticalIssues
	}
	if c.BlackCriticalFactor <= 0 {
		c.BlackCriticalFactor = d.BlackCriticalFactor
	}
	return c
}

// SystemState carries the failure signals the autonomy machine reads.
type SystemState struct {
	BacklogSize       int                `json:"backlog_size"`
	CriticalIssues    int                `json:"critical_issues"`
	FailedDeployments int                `json:"failed_deployments"`
	LastError         string             `json:"last_error,omitempty"`
	ResourceUsage     map[string]float64 `json:"resource_usage,omitempty"`
}

// StateChangeFunc observes autonomy level transitions.
type StateChangeFunc func(old, new AutonomyLevel)

// PanicModeFunc observes panic mode transitions.
type PanicModeFunc func(old, new PanicMode)

// Breaker is the process-wide circuit breaker. All state mutations go
// through its single mutex; reads observe a consistent snapshot.
// Callbacks fire outside the lock, once per transition; handlers must
// not call back into the breaker synchronously.
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time

	mu             sync.Mutex
	level          AutonomyLevel
	panicMode      PanicMode
	strictness     float64
	panicStart     time.Time
	cooldownCycles int
	window         *metricsWindow
	systemState    SystemState
	history        []TransitionRecord
	hostActivity   hostActivity

	reputation *reputationTracker

	onStateChange []StateChangeFunc
	onPanicMode   []PanicModeFunc
}

// TransitionRecord is one audited state transition. Records are
// hash-chained so a persisted history can be verified.
type TransitionRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      string    `json:"kind"` // "level" or "panic_mode"
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) { b.clock = clock }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a breaker at GREEN/NORMAL with strictness 0.5.
func New(cfg Config, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		cfg:        cfg,
		logger:     zap.NewNop(),
		clock:      time.Now,
		level:      LevelGreen,
		panicMode:  PanicNormal,
		strictness: 0.5,
		reputation: newReputationTracker(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.window = newMetricsWindow(cfg.WindowDuration, cfg.MaxWindows, b.clock)
	b.hostActivity.lastSeen = b.clock()
	return b
}

// OnStateChange registers a level transition observer.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = append(b.onStateChange, fn)
}

// OnPanicMode registers a panic mode observer.
func (b *Breaker) OnPanicMode(fn PanicModeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanicMode = append(b.onPanicMode, fn)
}

// Level returns the current autonomy level.
func (b *Breaker) Level() AutonomyLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// Mode returns the current panic mode.
func (b *Breaker) Mode() PanicMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.panicMode
}

// Strictness returns the current strictness knob value. Implements the
// contract engine's StrictnessProvider capability.
func (b *Breaker) Strictness() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strictness
}

// State returns a consistent snapshot of the breaker state.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// UpdateSystemState replaces the failure-signal inputs.
func (b *Breaker) UpdateSystemState(state SystemState) {
	b.mu.Lock()
	b.systemState = state
	b.mu.Unlock()
}

// transitionLevelLocked mutates the level and records the transition.
// Returns callbacks to fire after the lock is released.
func (b *Breaker) transitionLevelLocked(to AutonomyLevel, reason string) func() {
	from := b.level
	if from == to {
		return func() {}
	}
	b.level = to
	b.appendHistoryLocked("level", from.String(), to.String(), reason)
	b.logger.Warn("autonomy level transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason))

	observers := make([]StateChangeFunc, len(b.onStateChange))
	copy(observers, b.onStateChange)
	return func() {
		for _, fn := range observers {
			fn(from, to)
		}
	}
}

// transitionPanicLocked mutates the panic mode and records it.
func (b *Breaker) transitionPanicLocked(to PanicMode, reason string) func() {
	from := b.panicMode
	if from == to {
		return func() {}
	}
	b.panicMode = to
	b.appendHistoryLocked("panic_mode", from.String(), to.String(), reason)

	observers := make([]PanicModeFunc, len(b.onPanicMode))
	copy(observers, b.onPanicMode)
	return func() {
		for _, fn := range observers {
			fn(from, to)
		}
	}
}

func (b *Breaker) appendHistoryLocked(kind, from, to, reason string) {
	prev := ""
	if len(b.history) > 0 {
		prev = b.history[len(b.history)-1].Hash
	}
	rec := TransitionRecord{
		From:      from,
		To:        to,
		Kind:      kind,
		Reason:    reason,
		Timestamp: b.clock().UTC(),
		PrevHash:  prev,
	}
	rec.Hash = hashTransition(rec)
	b.history = append(b.history, rec)
}
