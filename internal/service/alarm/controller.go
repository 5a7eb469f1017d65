package alarm

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/oshokin/drowsy-alarm/internal/audio"
	domain "github.com/oshokin/drowsy-alarm/internal/domain/alarm"
	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/status"
)

// Observer is notified about incidents. Calls happen on the caller's
// goroutine or the playback goroutine and must not block.
type Observer interface {
	IncidentOpened(ctx context.Context, incident *domain.Incident)
	IncidentClosed(ctx context.Context, incident *domain.Incident)
}

// Options configures a Controller.
type Options struct {
	// Sink plays the alarm sound.
	Sink audio.Sink
	// Asset is the sound played on every alarm.
	Asset string
	// Status receives user-visible messages. Optional.
	Status status.Sink
	// Observers are notified about incidents. Optional.
	Observers []Observer
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// session is one playing alarm sound.
type session struct {
	id     string
	cancel context.CancelFunc
}

// Controller starts and stops alarm playback.
type Controller struct {
	sink      audio.Sink
	asset     string
	status    status.Sink
	observers []Observer
	now       func() time.Time

	// mu guards current and incident, which the playback goroutine also touches.
	mu       sync.Mutex
	current  *session
	incident *domain.Incident
	entropy  *ulid.MonotonicEntropy

	wg sync.WaitGroup
}

// errNoSink is returned when the controller is built without an audio sink.
var errNoSink = errors.New("audio sink is required")

// NewController validates options and returns an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Sink == nil {
		return nil, errNoSink
	}

	statusSink := opts.Status
	if statusSink == nil {
		statusSink = status.Func(func(string) {})
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		sink:      opts.Sink,
		asset:     opts.Asset,
		status:    statusSink,
		observers: opts.Observers,
		now:       now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// OnClosedSustained starts the alarm for a closure run that began at closedAt.
// It returns false without side effects when a session is already live.
func (c *Controller) OnClosedSustained(ctx context.Context, closedAt time.Time) bool {
	ctx = logger.WithName(ctx, "alarm")

	c.mu.Lock()

	if c.current != nil {
		id := c.current.id
		c.mu.Unlock()
		logger.DebugKV(ctx, "Alarm already playing, ignoring trigger", "session_id", id)

		return false
	}

	now := c.now()
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     uuid.NewString(),
		cancel: cancel,
	}
	c.current = s

	// A previous incident left open by a failed sound is superseded.
	previous := c.incident
	c.incident = &domain.Incident{
		ID:        ulid.MustNew(ulid.Timestamp(now), c.entropy).String(),
		SessionID: s.id,
		ClosedAt:  closedAt,
		AlarmedAt: now,
		Outcome:   domain.OutcomePending,
	}
	opened := c.incident.Clone()

	c.wg.Add(1)
	c.mu.Unlock()

	if previous != nil {
		previous.RecoveredAt = now
		c.notifyClosed(ctx, previous)
	}

	logger.WarnKV(ctx, "Sustained eye closure, alarm started",
		"session_id", s.id,
		"closed_for", now.Sub(closedAt).String(),
	)
	c.status.SetText(status.TextEyesNotDetected)
	c.notifyOpened(ctx, opened)

	go c.play(sessionCtx, s)

	return true
}

// OnRecovered stops any live session and closes the open incident.
// It is safe to call at any time and any number of times.
func (c *Controller) OnRecovered(ctx context.Context) bool {
	ctx = logger.WithName(ctx, "alarm")

	c.mu.Lock()
	s := c.current
	c.current = nil

	incident := c.incident
	c.incident = nil

	if incident != nil {
		incident.RecoveredAt = c.now()
		if incident.Outcome == domain.OutcomePending {
			incident.Outcome = domain.OutcomeInterrupted
		}
	}
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		logger.InfoKV(ctx, "Alarm stopped", "session_id", s.id)
	}

	if incident != nil {
		logger.InfoKV(ctx, "Operator recovered",
			"incident_id", incident.ID,
			"closed_for", incident.Duration().String(),
			"outcome", string(incident.Outcome),
		)
		c.notifyClosed(ctx, incident)
	}

	return s != nil || incident != nil
}

// Playing reports whether a session is live.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current != nil
}

// Close stops any live session and waits for playback goroutines to exit.
func (c *Controller) Close(ctx context.Context) {
	c.OnRecovered(ctx)
	c.wg.Wait()
}

// play runs one session to completion on its own goroutine.
func (c *Controller) play(ctx context.Context, s *session) {
	defer c.wg.Done()

	err := c.playAndWait(ctx)

	outcome := domain.OutcomePlayed

	switch {
	case err == nil:
	case errors.Is(err, audio.ErrStopped), ctx.Err() != nil:
		outcome = domain.OutcomeInterrupted
	default:
		outcome = domain.OutcomeFailed
	}

	c.mu.Lock()
	// A recovery or a newer session may already own the state.
	if c.current == s {
		c.current = nil
	}

	if c.incident != nil && c.incident.SessionID == s.id && c.incident.Outcome == domain.OutcomePending {
		c.incident.Outcome = outcome
		if err != nil && outcome == domain.OutcomeFailed {
			c.incident.Error = err.Error()
		}
	}
	c.mu.Unlock()

	s.cancel()

	if outcome == domain.OutcomeFailed {
		logger.ErrorKV(ctx, "Alarm playback failed", "session_id", s.id, "sink", c.sink.Name(), "error", err)
		c.status.SetText(status.TextAlarmErrorPrefix + err.Error())

		return
	}

	logger.DebugKV(ctx, "Alarm session ended", "session_id", s.id, "outcome", string(outcome))
}

// playAndWait starts playback and blocks until it ends.
func (c *Controller) playAndWait(ctx context.Context) error {
	playback, err := c.sink.Play(ctx, c.asset)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, playback.Stop)
	defer stop()

	return playback.Wait()
}

// notifyOpened informs observers about a new incident.
func (c *Controller) notifyOpened(ctx context.Context, incident *domain.Incident) {
	for _, o := range c.observers {
		o.IncidentOpened(ctx, incident.Clone())
	}
}

// notifyClosed informs observers about a finished incident.
func (c *Controller) notifyClosed(ctx context.Context, incident *domain.Incident) {
	for _, o := range c.observers {
		o.IncidentClosed(ctx, incident.Clone())
	}
}
