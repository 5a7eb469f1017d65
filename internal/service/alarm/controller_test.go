package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/drowsy-alarm/internal/audio"
	domain "github.com/oshokin/drowsy-alarm/internal/domain/alarm"
	"github.com/oshokin/drowsy-alarm/internal/status"
)

var errDeviceBusy = errors.New("device busy")

// fakePlayback is a sound that ends when finish or Stop is called.
type fakePlayback struct {
	finish  chan error
	stopped chan struct{}
	once    sync.Once
}

// Wait blocks until the sound finishes or is stopped.
func (p *fakePlayback) Wait() error {
	select {
	case err := <-p.finish:
		return err
	case <-p.stopped:
		return audio.ErrStopped
	}
}

// Stop ends the sound.
func (p *fakePlayback) Stop() {
	p.once.Do(func() { close(p.stopped) })
}

// fakeSink records every playback it starts.
type fakeSink struct {
	mu        sync.Mutex
	playErr   error
	playbacks []*fakePlayback
}

// Name identifies the sink.
func (s *fakeSink) Name() string { return "fake" }

// Play starts a fake playback unless playErr is set.
//
//nolint:ireturn // Mirrors the audio.Sink contract.
func (s *fakeSink) Play(context.Context, string) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playErr != nil {
		return nil, s.playErr
	}

	p := &fakePlayback{
		finish:  make(chan error, 1),
		stopped: make(chan struct{}),
	}
	s.playbacks = append(s.playbacks, p)

	return p, nil
}

// started returns the number of playbacks.
func (s *fakeSink) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.playbacks)
}

// last returns the most recent playback.
func (s *fakeSink) last() *fakePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playbacks[len(s.playbacks)-1]
}

// recorder collects observer notifications and status texts.
type recorder struct {
	mu       sync.Mutex
	opened   []*domain.Incident
	closed   []*domain.Incident
	statuses []string
}

// IncidentOpened records an opened incident.
func (r *recorder) IncidentOpened(_ context.Context, incident *domain.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.opened = append(r.opened, incident)
}

// IncidentClosed records a closed incident.
func (r *recorder) IncidentClosed(_ context.Context, incident *domain.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = append(r.closed, incident)
}

// SetText records a status text.
func (r *recorder) SetText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, text)
}

// lastStatus returns the latest status text.
func (r *recorder) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.statuses) == 0 {
		return ""
	}

	return r.statuses[len(r.statuses)-1]
}

// newTestController wires a controller to a fake sink and a recorder.
func newTestController(t *testing.T) (*Controller, *fakeSink, *recorder) {
	t.Helper()

	sink := new(fakeSink)
	rec := new(recorder)

	c, err := NewController(Options{
		Sink:      sink,
		Asset:     "alarm.wav",
		Status:    rec,
		Observers: []Observer{rec},
	})
	require.NoError(t, err)

	return c, sink, rec
}

// TestNewController_RequiresSink rejects a missing sink.
func TestNewController_RequiresSink(t *testing.T) {
	t.Parallel()

	_, err := NewController(Options{})
	require.Error(t, err)
}

// TestController_SuppressesDoubleStart plays once until recovery.
func TestController_SuppressesDoubleStart(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, rec := newTestController(t)
		ctx := context.Background()
		closedAt := time.Now()

		time.Sleep(time.Second)

		require.True(t, c.OnClosedSustained(ctx, closedAt))
		require.False(t, c.OnClosedSustained(ctx, closedAt))
		synctest.Wait()

		require.Equal(t, 1, sink.started())
		require.True(t, c.Playing())
		require.Equal(t, status.TextEyesNotDetected, rec.lastStatus())
		require.Len(t, rec.opened, 1)
		require.Equal(t, closedAt, rec.opened[0].ClosedAt)
		require.Equal(t, domain.OutcomePending, rec.opened[0].Outcome)
		require.NotEmpty(t, rec.opened[0].ID)
		require.NotEmpty(t, rec.opened[0].SessionID)

		c.Close(ctx)
	})
}

// TestController_RecoveryStopsPlayback interrupts a live sound and allows a new alarm.
func TestController_RecoveryStopsPlayback(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, rec := newTestController(t)
		ctx := context.Background()

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()

		time.Sleep(2 * time.Second)

		require.True(t, c.OnRecovered(ctx))
		synctest.Wait()

		require.False(t, c.Playing())
		require.Len(t, rec.closed, 1)
		require.Equal(t, domain.OutcomeInterrupted, rec.closed[0].Outcome)
		require.Equal(t, 2*time.Second, rec.closed[0].Duration())

		select {
		case <-sink.last().stopped:
		default:
			t.Fatal("playback was not stopped")
		}

		// Recovery is idempotent.
		require.False(t, c.OnRecovered(ctx))

		// A new sustained closure fires a second, independent session.
		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()
		require.Equal(t, 2, sink.started())
		require.NotEqual(t, rec.opened[0].SessionID, rec.opened[1].SessionID)

		c.Close(ctx)
	})
}

// TestController_NaturalCompletion frees the session and records a played sound.
func TestController_NaturalCompletion(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, rec := newTestController(t)
		ctx := context.Background()

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()

		sink.last().finish <- nil
		synctest.Wait()

		require.False(t, c.Playing())

		require.True(t, c.OnRecovered(ctx))
		require.Len(t, rec.closed, 1)
		require.Equal(t, domain.OutcomePlayed, rec.closed[0].Outcome)
	})
}

// TestController_PlaybackFailure reports the error and allows a retry.
func TestController_PlaybackFailure(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, rec := newTestController(t)
		ctx := context.Background()

		sink.playErr = errDeviceBusy

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()

		require.False(t, c.Playing())
		require.Equal(t, status.TextAlarmErrorPrefix+errDeviceBusy.Error(), rec.lastStatus())

		c.OnRecovered(ctx)
		require.Len(t, rec.closed, 1)
		require.Equal(t, domain.OutcomeFailed, rec.closed[0].Outcome)
		require.Equal(t, errDeviceBusy.Error(), rec.closed[0].Error)

		sink.mu.Lock()
		sink.playErr = nil
		sink.mu.Unlock()

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()
		require.True(t, c.Playing())

		c.Close(ctx)
	})
}

// TestController_FailureMidSession treats a broken sound as not playing.
func TestController_FailureMidSession(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, rec := newTestController(t)
		ctx := context.Background()

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()

		sink.last().finish <- errDeviceBusy
		synctest.Wait()

		require.False(t, c.Playing())
		require.Contains(t, rec.lastStatus(), errDeviceBusy.Error())

		c.Close(ctx)
	})
}

// TestController_ContextCancelStopsPlayback stops the sound when the monitor shuts down.
func TestController_ContextCancelStopsPlayback(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		c, sink, _ := newTestController(t)
		ctx, cancel := context.WithCancel(context.Background())

		require.True(t, c.OnClosedSustained(ctx, time.Now()))
		synctest.Wait()

		cancel()
		synctest.Wait()

		require.False(t, c.Playing())

		select {
		case <-sink.last().stopped:
		default:
			t.Fatal("playback was not stopped")
		}
	})
}
