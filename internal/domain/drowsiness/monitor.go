package drowsiness

import "time"

// DefaultHold is how long all eyes must stay closed before the alarm fires.
const DefaultHold = time.Second

// Phase is the debounce stage of the monitor.
type Phase int

const (
	// Awake means no closure run is in progress.
	Awake Phase = iota
	// Closing means all eyes are closed and the hold timer runs.
	Closing
	// Alarmed means the closure outlasted the hold duration.
	Alarmed
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case Awake:
		return "awake"
	case Closing:
		return "closing"
	case Alarmed:
		return "alarmed"
	default:
		return "unknown"
	}
}

// State is the persistent part of the monitor.
type State struct {
	// ClosureStart is when the current closure run began. Zero when awake.
	ClosureStart time.Time
	// AlarmActive is set once the run outlasted the hold duration.
	AlarmActive bool
}

// Phase derives the debounce stage from the state.
func (s State) Phase() Phase {
	switch {
	case s.AlarmActive:
		return Alarmed
	case !s.ClosureStart.IsZero():
		return Closing
	default:
		return Awake
	}
}

// Transition describes what one Update did.
type Transition struct {
	// From is the phase before the update.
	From Phase
	// To is the phase after the update.
	To Phase
	// Fire is set on the Closing to Alarmed edge only.
	Fire bool
	// Recover is set when a closure run ends, whether or not it alarmed.
	Recover bool
	// ClosedFor is the length of the closure run as of this update.
	// On a recovering update it is the length of the run that just ended.
	ClosedFor time.Duration
	// ClosureStart is when the run began, zero when there was none.
	ClosureStart time.Time
}

// Changed reports whether the phase moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Monitor debounces the per-frame closure signal.
// It is not safe for concurrent use; the detection loop is its only caller.
type Monitor struct {
	hold  time.Duration
	state State
}

// NewMonitor returns a monitor in the Awake phase.
// A non-positive hold falls back to DefaultHold.
func NewMonitor(hold time.Duration) *Monitor {
	if hold <= 0 {
		hold = DefaultHold
	}

	return &Monitor{hold: hold}
}

// Hold returns the sustained-closure duration.
func (m *Monitor) Hold() time.Duration {
	return m.hold
}

// State returns a copy of the current state.
func (m *Monitor) State() State {
	return m.state
}

// Update feeds one tick's aggregate into the state machine.
// allClosed must be true iff no detected eye is open; now is the tick's wall clock time.
func (m *Monitor) Update(allClosed bool, now time.Time) Transition {
	transition := Transition{
		From:         m.state.Phase(),
		ClosureStart: m.state.ClosureStart,
	}

	if !allClosed {
		if transition.From != Awake {
			transition.Recover = true
			transition.ClosedFor = elapsed(m.state.ClosureStart, now)
		}

		m.state = State{}
		transition.To = Awake

		return transition
	}

	switch transition.From {
	case Awake:
		// The first closed tick only starts the timer.
		m.state.ClosureStart = now
		transition.ClosureStart = now
	case Closing:
		transition.ClosedFor = elapsed(m.state.ClosureStart, now)
		if transition.ClosedFor >= m.hold {
			m.state.AlarmActive = true
			transition.Fire = true
		}
	case Alarmed:
		transition.ClosedFor = elapsed(m.state.ClosureStart, now)
	}

	transition.To = m.state.Phase()

	return transition
}

// Reset returns the monitor to Awake without reporting a transition.
func (m *Monitor) Reset() {
	m.state = State{}
}

// elapsed clamps a clock step backwards to zero.
func elapsed(start, now time.Time) time.Duration {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}

	return d
}
