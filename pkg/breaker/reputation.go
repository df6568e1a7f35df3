package breaker

import (
	"sync"
	"time"
)

// AgentReputation is the per-agent outcome history and derived score.
type AgentReputation struct {
	AgentID           string     `json:"agent_id"`
	Score             float64    `json:"score"`
	TotalRequests     int        `json:"total_requests"`
	RejectedRequests  int        `json:"rejected_requests"`
	ForbiddenAttempts int        `json:"forbidden_attempts"`
	SuccessfulOps     int        `json:"successful_ops"`
	LastForbiddenAt   *time.Time `json:"last_forbidden_at,omitempty"`
}

// scoreFloor is how many outcomes an agent must accumulate before the
// score formula replaces the initial full-trust value.
const scoreFloor = 5

// recompute derives the score from the counters:
//
//	score = clamp(0,1, 1 − 0.5·rejectionRate
//	                  − min(0.15·forbiddenAttempts, 0.4)
//	                  + min(0.02·successfulOps, 0.2))
//
// Only applied once TotalRequests ≥ 5; younger agents keep score 1.0.
func (r *AgentReputation) recompute() {
	if r.TotalRequests < scoreFloor {
		r.Score = 1.0
		return
	}
	rejectionRate := float64(r.RejectedRequests) / float64(r.TotalRequests)
	forbiddenPenalty := 0.15 * float64(r.ForbiddenAttempts)
	if forbiddenPenalty > 0.4 {
		forbiddenPenalty = 0.4
	}
	successBonus := 0.02 * float64(r.SuccessfulOps)
	if successBonus > 0.2 {
		successBonus = 0.2
	}
	r.Score = clamp(0, 1, 1-0.5*rejectionRate-forbiddenPenalty+successBonus)
}

// reputationTracker keeps one entry per agent under fine-grained
// per-agent locking: the outer RWMutex only guards map shape, each
// entry serializes its own updates.
type reputationTracker struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
}

type agentEntry struct {
	mu  sync.Mutex
	rep AgentReputation
}

func newReputationTracker() *reputationTracker {
	return &reputationTracker{agents: make(map[string]*agentEntry)}
}

func (t *reputationTracker) entry(agentID string) *agentEntry {
	t.mu.RLock()
	e, ok := t.agents[agentID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.agents[agentID]; ok {
		return e
	}
	e = &agentEntry{rep: AgentReputation{AgentID: agentID, Score: 1.0}}
	t.agents[agentID] = e
	return e
}

func (t *reputationTracker) record(agentID string, outcome Outcome, now time.Time) {
	e := t.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rep.TotalRequests++
	switch outcome {
	case OutcomeRejected:
		e.rep.RejectedRequests++
	case OutcomeForbidden:
		e.rep.RejectedRequests++
		e.rep.ForbiddenAttempts++
		ts := now.UTC()
		e.rep.LastForbiddenAt = &ts
	case OutcomeSuccess:
		e.rep.SuccessfulOps++
	}
	e.rep.recompute()
}

func (t *reputationTracker) score(agentID string) float64 {
	t.mu.RLock()
	e, ok := t.agents[agentID]
	t.mu.RUnlock()
	if !ok {
		return 1.0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rep.Score
}

func (t *reputationTracker) get(agentID string) (AgentReputation, bool) {
	t.mu.RLock()
	e, ok := t.agents[agentID]
	t.mu.RUnlock()
	if !ok {
		return AgentReputation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rep, true
}

func (t *reputationTracker) all() map[string]AgentReputation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]AgentReputation, len(t.agents))
	for id, e := range t.agents {
		e.mu.Lock()
		out[id] = e.rep
		e.mu.Unlock()
	}
	return out
}

func (t *reputationTracker) restore(reps map[string]AgentReputation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rep := range reps {
		t.agents[id] = &agentEntry{rep: rep}
	}
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
