package breaker

import "time"

// Outcome classifies one request result for the metrics stream.
type Outcome int

const (
	// OutcomeApproved: request passed validation (not yet executed).
	OutcomeApproved Outcome = iota
	// OutcomeRejected: request denied by any check.
	OutcomeRejected
	// OutcomeForbidden: request targeted an unregistered or forbidden
	// operation; weighs heavier on reputation than a plain rejection.
	OutcomeForbidden
	// OutcomeSuccess: operation executed and returned cleanly.
	OutcomeSuccess
)

// WindowSnapshot accumulates request outcomes for one window interval.
type WindowSnapshot struct {
	Start              time.Time      `json:"start"`
	Total              int            `json:"total"`
	Rejected           int            `json:"rejected"`
	Forbidden          int            `json:"forbidden"`
	PerAgentRejections map[string]int `json:"per_agent_rejections,omitempty"`
}

// RejectionRate returns rejected/total for this snapshot, 0 when empty.
func (s WindowSnapshot) RejectionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Total)
}

// metricsWindow is the rolling buffer of at most maxWindows snapshots,
// plus the currently accumulating one. Counter updates are serialized
// by the Breaker's mutex; rotation and strictness adjustment happen
// together under the same critical section so they are atomic as a
// pair.
type metricsWindow struct {
	duration   time.Duration
	maxWindows int
	clock      func() time.Time

	current WindowSnapshot
	past    []WindowSnapshot
}

func newMetricsWindow(duration time.Duration, maxWindows int, clock func() time.Time) *metricsWindow {
	return &metricsWindow{
		duration:   duration,
		maxWindows: maxWindows,
		clock:      clock,
		current:    WindowSnapshot{Start: clock(), PerAgentRejections: map[string]int{}},
	}
}

func (w *metricsWindow) record(agentID string, outcome Outcome) {
	w.current.Total++
	switch outcome {
	case OutcomeRejected:
		w.current.Rejected++
		w.current.PerAgentRejections[agentID]++
	case OutcomeForbidden:
		w.current.Rejected++
		w.current.Forbidden++
		w.current.PerAgentRejections[agentID]++
	}
}

// rotateIfDue pushes the current snapshot once its age reaches the
// window duration. Returns true when a rotation happened.
func (w *metricsWindow) rotateIfDue() bool {
	if w.clock().Sub(w.current.Start) < w.duration {
		return false
	}
	w.rotate()
	return true
}

func (w *metricsWindow) rotate() {
	w.past = append(w.past, w.current)
	if len(w.past) > w.maxWindows {
		w.past = w.past[len(w.past)-w.maxWindows:]
	}
	w.current = WindowSnapshot{Start: w.clock(), PerAgentRejections: map[string]int{}}
}

// currentRate is the rejection rate driving the strictness machine: the
// accumulating snapshot when it has data, otherwise the aggregate of
// retained snapshots. Using the live snapshot keeps panic entry and
// exit responsive to what is happening right now rather than to bursts
// already pushed into history.
func (w *metricsWindow) currentRate() float64 {
	if w.current.Total > 0 {
		return w.current.RejectionRate()
	}
	return w.aggregateRate()
}

// aggregateRate is Σrejected/Σtotal over all retained snapshots plus
// the current one.
func (w *metricsWindow) aggregateRate() float64 {
	total, rejected := w.current.Total, w.current.Rejected
	for _, s := range w.past {
		total += s.Total
		rejected += s.Rejected
	}
	if total == 0 {
		return 0
	}
	return float64(rejected) / float64(total)
}
