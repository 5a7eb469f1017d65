package drowsiness

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tick is the nominal detection loop period.
const tick = 33 * time.Millisecond

// base is an arbitrary non-zero wall clock origin.
var base = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

// TestMonitor_TransitionTable walks every row of the transition table.
func TestMonitor_TransitionTable(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second)

	// AWAKE + open -> AWAKE.
	tr := m.Update(false, base)
	require.Equal(t, Awake, tr.From)
	require.Equal(t, Awake, tr.To)
	require.False(t, tr.Fire)
	require.False(t, tr.Recover)

	// AWAKE + closed -> CLOSING, start recorded.
	tr = m.Update(true, base)
	require.Equal(t, Closing, tr.To)
	require.Equal(t, base, m.State().ClosureStart)
	require.False(t, tr.Fire)

	// CLOSING + closed, elapsed < hold -> CLOSING.
	tr = m.Update(true, base.Add(999*time.Millisecond))
	require.Equal(t, Closing, tr.To)
	require.False(t, tr.Fire)

	// CLOSING + closed, elapsed >= hold -> ALARMED, fire.
	tr = m.Update(true, base.Add(time.Second))
	require.Equal(t, Closing, tr.From)
	require.Equal(t, Alarmed, tr.To)
	require.True(t, tr.Fire)
	require.True(t, m.State().AlarmActive)

	// ALARMED + closed -> ALARMED, no re-fire.
	tr = m.Update(true, base.Add(5*time.Second))
	require.Equal(t, Alarmed, tr.To)
	require.False(t, tr.Fire)
	require.Equal(t, 5*time.Second, tr.ClosedFor)

	// ALARMED + open -> AWAKE, recover and clear.
	tr = m.Update(false, base.Add(6*time.Second))
	require.Equal(t, Alarmed, tr.From)
	require.Equal(t, Awake, tr.To)
	require.True(t, tr.Recover)
	require.Equal(t, 6*time.Second, tr.ClosedFor)
	require.Equal(t, base, tr.ClosureStart)
	require.Equal(t, State{}, m.State())

	// CLOSING + open -> AWAKE, clear.
	m.Update(true, base.Add(7*time.Second))
	tr = m.Update(false, base.Add(7*time.Second+tick))
	require.Equal(t, Closing, tr.From)
	require.Equal(t, Awake, tr.To)
	require.True(t, tr.Recover)
	require.True(t, m.State().ClosureStart.IsZero())
}

// TestMonitor_ScenarioA fires exactly once after ~1s of closed ticks at 33ms.
func TestMonitor_ScenarioA(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second)

	var fired []int

	for i := range 40 {
		tr := m.Update(true, base.Add(time.Duration(i)*tick))
		if i == 0 {
			require.Equal(t, Awake, tr.From)
			require.Equal(t, Closing, tr.To)
		}

		if tr.Fire {
			fired = append(fired, i)
		}
	}

	// 31 intervals of 33ms is the first elapsed >= 1s.
	require.Equal(t, []int{31}, fired)
	require.Equal(t, Alarmed, m.State().Phase())
}

// TestMonitor_ScenarioB never alarms on a short closure.
func TestMonitor_ScenarioB(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second)

	for i := range 10 {
		tr := m.Update(true, base.Add(time.Duration(i)*tick))
		require.False(t, tr.Fire)
	}

	tr := m.Update(false, base.Add(10*tick))
	require.True(t, tr.Recover)
	require.Equal(t, Awake, tr.To)
	require.True(t, m.State().ClosureStart.IsZero())
	require.False(t, m.State().AlarmActive)
}

// TestMonitor_ScenarioD fires a second, independent time after recovery.
func TestMonitor_ScenarioD(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second)
	now := base
	fires := 0

	run := func(ticks int, closed bool) {
		for range ticks {
			if m.Update(closed, now).Fire {
				fires++
			}

			now = now.Add(tick)
		}
	}

	run(40, true)
	require.Equal(t, 1, fires)

	run(1, false)
	require.Equal(t, Awake, m.State().Phase())

	run(40, true)
	require.Equal(t, 2, fires)
}

// TestMonitor_IrregularTicks only compares now against the recorded start.
func TestMonitor_IrregularTicks(t *testing.T) {
	t.Parallel()

	m := NewMonitor(time.Second)

	m.Update(true, base)
	require.True(t, m.Update(true, base.Add(3*time.Second)).Fire, "one late tick is enough")

	m.Reset()
	m.Update(true, base)
	require.False(t, m.Update(true, base.Add(-time.Minute)).Fire, "clock stepping back is zero elapsed")
}

// TestMonitor_DefaultHold falls back for non-positive values.
func TestMonitor_DefaultHold(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultHold, NewMonitor(0).Hold())
	require.Equal(t, DefaultHold, NewMonitor(-time.Second).Hold())
	require.Equal(t, 2*time.Second, NewMonitor(2*time.Second).Hold())
}

// TestMonitor_RunProperty checks against a reference model on random input:
// the alarm is active iff the current closed run spans at least the hold.
func TestMonitor_RunProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // Deterministic test input.

	for range 200 {
		var (
			m        = NewMonitor(time.Second)
			now      = base
			runStart time.Time
			inRun    bool
			alarmed  bool
		)

		for range 300 {
			now = now.Add(time.Duration(rng.IntN(120)+1) * time.Millisecond)
			closed := rng.IntN(100) < 93

			tr := m.Update(closed, now)

			switch {
			case !closed:
				inRun, alarmed = false, false
			case !inRun:
				inRun, runStart = true, now
			case now.Sub(runStart) >= time.Second:
				require.Equal(t, !alarmed, tr.Fire, "fires once per run")

				alarmed = true
			}

			require.Equal(t, alarmed, m.State().AlarmActive)

			if !closed {
				require.True(t, m.State().ClosureStart.IsZero())
			}
		}
	}
}

// TestPhaseString names every phase.
func TestPhaseString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "awake", Awake.String())
	require.Equal(t, "closing", Closing.String())
	require.Equal(t, "alarmed", Alarmed.String())
	require.Equal(t, "unknown", Phase(42).String())
}
