package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
	"github.com/oshokin/drowsy-alarm/internal/status"
)

const tick = 33 * time.Millisecond

var (
	errCameraUnplugged = errors.New("camera unplugged")
	errBadMat          = errors.New("bad mat")

	openEye   = drowsiness.EyeRegion{X: 10, Y: 10, Width: 40, Height: 30}
	closedEye = drowsiness.EyeRegion{X: 60, Y: 10, Width: 40, Height: 4}
)

// fakeFrame counts its releases.
type fakeFrame struct {
	gray   bool
	closed atomic.Int32
}

// Close records the release.
func (f *fakeFrame) Close() error {
	f.closed.Add(1)

	return nil
}

// fakeSource yields a new frame per call unless told otherwise.
type fakeSource struct {
	empty  bool
	err    error
	frames []*fakeFrame
}

// Acquire returns a fresh frame, nothing, or an error.
//
//nolint:ireturn // Mirrors the FrameSource contract.
func (s *fakeSource) Acquire(context.Context) (Frame, error) {
	switch {
	case s.err != nil:
		return nil, s.err
	case s.empty:
		return nil, nil
	}

	f := new(fakeFrame)
	s.frames = append(s.frames, f)

	return f, nil
}

// fakeConverter returns a separate grayscale frame.
type fakeConverter struct {
	err   error
	grays []*fakeFrame
}

// Grayscale returns a new frame flagged gray.
//
//nolint:ireturn // Mirrors the Converter contract.
func (c *fakeConverter) Grayscale(Frame) (Frame, error) {
	if c.err != nil {
		return nil, c.err
	}

	g := &fakeFrame{gray: true}
	c.grays = append(c.grays, g)

	return g, nil
}

// fakeDetector returns the configured regions or panics on demand.
type fakeDetector struct {
	regions []drowsiness.EyeRegion
	panics  bool
	sawGray bool
}

// Detect returns the configured regions.
func (d *fakeDetector) Detect(gray Frame) ([]drowsiness.EyeRegion, error) {
	if d.panics {
		panic("cascade exploded")
	}

	d.sawGray = gray.(*fakeFrame).gray

	return d.regions, nil
}

// fakeAlarm counts controller calls.
type fakeAlarm struct {
	mu        sync.Mutex
	fired     []time.Time
	recovered int
}

// OnClosedSustained records a trigger.
func (a *fakeAlarm) OnClosedSustained(_ context.Context, closedAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fired = append(a.fired, closedAt)

	return true
}

// OnRecovered records a recovery.
func (a *fakeAlarm) OnRecovered(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recovered++

	return true
}

// fires returns the number of triggers.
func (a *fakeAlarm) fires() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.fired)
}

// fakeRenderer records annotations and shown frames.
type fakeRenderer struct {
	annotated int
	shown     int
	lastMarks []drowsiness.ClosureSample
	err       error
}

// Annotate records the samples.
func (r *fakeRenderer) Annotate(_ Frame, samples []drowsiness.ClosureSample) error {
	r.annotated++
	r.lastMarks = samples

	return r.err
}

// Show records the frame.
func (r *fakeRenderer) Show(Frame) error {
	r.shown++

	return r.err
}

// clock is a manually advanced time source.
type clock struct {
	now time.Time
}

// Now returns the current fake time.
func (c *clock) Now() time.Time { return c.now }

// harness bundles a pipeline with its fakes.
type harness struct {
	pipeline  *Pipeline
	source    *fakeSource
	converter *fakeConverter
	detector  *fakeDetector
	alarm     *fakeAlarm
	renderer  *fakeRenderer
	monitor   *drowsiness.Monitor
	clock     *clock
	statuses  []string
}

// newHarness builds a pipeline around fresh fakes.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		source:    new(fakeSource),
		converter: new(fakeConverter),
		detector:  new(fakeDetector),
		alarm:     new(fakeAlarm),
		renderer:  new(fakeRenderer),
		monitor:   drowsiness.NewMonitor(time.Second),
		clock:     &clock{now: time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)},
	}

	p, err := New(Options{
		Source:    h.source,
		Converter: h.converter,
		Detector:  h.detector,
		Monitor:   h.monitor,
		Alarm:     h.alarm,
		Annotator: h.renderer,
		Display:   h.renderer,
		Status:    status.Func(func(text string) { h.statuses = append(h.statuses, text) }),
		Now:       h.clock.Now,
	})
	require.NoError(t, err)

	h.pipeline = p

	return h
}

// run performs n ticks 33ms apart with the given regions.
func (h *harness) run(t *testing.T, n int, regions ...drowsiness.EyeRegion) {
	t.Helper()

	h.detector.regions = regions
	for range n {
		_, err := h.pipeline.Tick(context.Background())
		require.NoError(t, err)

		h.clock.now = h.clock.now.Add(tick)
	}
}

// TestNew_RequiresCollaborators rejects missing required parts.
func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.ErrorIs(t, err, errMissingCollaborator)

	_, err = New(Options{
		Source:    new(fakeSource),
		Converter: new(fakeConverter),
		Detector:  new(fakeDetector),
		Monitor:   drowsiness.NewMonitor(0),
	})
	require.ErrorIs(t, err, errMissingCollaborator)
}

// TestTick_ScenarioA fires exactly once after a second of closed eyes.
func TestTick_ScenarioA(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 1, closedEye, closedEye)
	require.Equal(t, drowsiness.Closing, h.monitor.State().Phase())

	h.run(t, 39, closedEye, closedEye)

	require.Equal(t, 1, h.alarm.fires())
	require.Equal(t, drowsiness.Alarmed, h.monitor.State().Phase())
	require.Zero(t, h.alarm.recovered)
	require.True(t, h.detector.sawGray)
}

// TestTick_ScenarioB recovers from a short closure without alarming.
func TestTick_ScenarioB(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 10, closedEye)
	h.run(t, 1, openEye, closedEye)

	require.Zero(t, h.alarm.fires())
	require.Equal(t, 1, h.alarm.recovered)
	require.True(t, h.monitor.State().ClosureStart.IsZero())
	require.Equal(t, []string{status.TextEyesDetected}, h.statuses)
}

// TestTick_ScenarioC treats frames without detected eyes as closed.
func TestTick_ScenarioC(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 40)

	require.Equal(t, 1, h.alarm.fires())
	require.Empty(t, h.statuses)
}

// TestTick_ScenarioD fires a second time after a recovery.
func TestTick_ScenarioD(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 40, closedEye)
	h.run(t, 1, openEye)
	h.run(t, 40, closedEye)

	require.Equal(t, 2, h.alarm.fires())
	require.Equal(t, 1, h.alarm.recovered)
	require.True(t, h.alarm.fired[1].After(h.alarm.fired[0]))
}

// TestTick_NoFrameSkips leaves the monitor untouched when the camera has nothing.
func TestTick_NoFrameSkips(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.source.empty = true

	result, err := h.pipeline.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, drowsiness.State{}, h.monitor.State())
	require.Zero(t, h.renderer.shown)
}

// TestTick_FailuresDoNotMutateState covers acquire, convert and detector panics.
func TestTick_FailuresDoNotMutateState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 5, closedEye)

	before := h.monitor.State()

	h.source.err = errCameraUnplugged
	_, err := h.pipeline.Tick(context.Background())
	require.ErrorIs(t, err, errCameraUnplugged)

	h.source.err = nil
	h.converter.err = errBadMat
	_, err = h.pipeline.Tick(context.Background())
	require.ErrorIs(t, err, errBadMat)

	h.converter.err = nil
	h.detector.panics = true

	var result TickResult

	require.NotPanics(t, func() {
		result, err = h.pipeline.Tick(context.Background())
	})
	require.ErrorIs(t, err, errTickPanic)
	require.True(t, result.Skipped)

	require.Equal(t, before, h.monitor.State())

	// Every acquired frame was released, including the one of the panicking tick.
	for _, f := range h.source.frames {
		require.EqualValues(t, 1, f.closed.Load())
	}

	for _, g := range h.converter.grays {
		require.EqualValues(t, 1, g.closed.Load())
	}
}

// TestTick_AnnotatesAndShows presents the frame with its samples.
func TestTick_AnnotatesAndShows(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.run(t, 1, openEye, closedEye)

	require.Equal(t, 1, h.renderer.annotated)
	require.Equal(t, 1, h.renderer.shown)
	require.Len(t, h.renderer.lastMarks, 2)
	require.True(t, h.renderer.lastMarks[0].IsOpen)
	require.False(t, h.renderer.lastMarks[1].IsOpen)

	// Display failures are cosmetic.
	h.renderer.err = errBadMat
	h.run(t, 1, closedEye)
	require.Equal(t, drowsiness.Closing, h.monitor.State().Phase())
}

// fakeHeartbeat records loop liveness.
type fakeHeartbeat struct {
	beats   atomic.Int64
	stopped atomic.Bool
}

// Beat counts a tick.
func (b *fakeHeartbeat) Beat(time.Time) { b.beats.Add(1) }

// Stopped marks the loop as stopped.
func (b *fakeHeartbeat) Stopped() { b.stopped.Store(true) }

// TestLoop_RunsUntilCanceled drives real ticker ticks in a bubble.
func TestLoop_RunsUntilCanceled(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)
		h.pipeline.opts.Now = time.Now
		h.detector.regions = []drowsiness.EyeRegion{closedEye}

		heartbeat := new(fakeHeartbeat)

		loop, err := NewLoop(h.pipeline, tick, heartbeat)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		go func() {
			done <- loop.Run(ctx)
		}()

		// 45 ticks: the first closes at tick 1, the alarm fires once after a second.
		time.Sleep(45*tick + tick/2)
		synctest.Wait()

		require.Equal(t, 1, h.alarm.fires())

		h.source.empty = true
		time.Sleep(3 * tick)
		synctest.Wait()

		cancel()
		require.NoError(t, <-done)

		stats := loop.Stats()
		require.EqualValues(t, 48, stats.Ticks)
		require.EqualValues(t, 3, stats.Skipped)
		require.EqualValues(t, 1, stats.Alarms)
		require.EqualValues(t, 48, heartbeat.beats.Load())
		require.True(t, heartbeat.stopped.Load())
	})
}

// TestLoop_SurvivesFailures keeps ticking after errors.
func TestLoop_SurvivesFailures(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)
		h.detector.panics = true

		loop, err := NewLoop(h.pipeline, 0, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*tick+tick/2)
		defer cancel()

		require.NoError(t, loop.Run(ctx))
		require.EqualValues(t, 10, loop.Stats().Failures)
	})
}
