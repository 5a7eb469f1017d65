package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/oshokin/drowsy-alarm/internal/config"
	"github.com/oshokin/drowsy-alarm/internal/logger"
)

// Heartbeat is told about the liveness of the loop.
type Heartbeat interface {
	// Beat is called after every tick, successful or not.
	Beat(at time.Time)
	// Stopped is called once when the loop exits.
	Stopped()
}

// Stats counts tick outcomes since the loop started.
type Stats struct {
	Ticks    uint64
	Skipped  uint64
	Failures uint64
	Alarms   uint64
}

// Loop drives a Pipeline from a ticker.
type Loop struct {
	pipeline  *Pipeline
	interval  time.Duration
	heartbeat Heartbeat

	ticks    atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
	alarms   atomic.Uint64
}

// errNoPipeline is returned when the loop is built without a pipeline.
var errNoPipeline = errors.New("pipeline is required")

// NewLoop returns a loop ticking every interval.
// A non-positive interval falls back to the default tick interval.
func NewLoop(p *Pipeline, interval time.Duration, heartbeat Heartbeat) (*Loop, error) {
	if p == nil {
		return nil, errNoPipeline
	}

	if interval <= 0 {
		interval = config.DefaultTickInterval
	}

	return &Loop{
		pipeline:  p,
		interval:  interval,
		heartbeat: heartbeat,
	}, nil
}

// Run ticks until ctx is canceled and returns nil on cancellation.
// A slow tick delays the next one; ticks never overlap.
func (l *Loop) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "pipeline")

	logger.InfoKV(ctx, "Detection loop started", "interval", l.interval.String())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.heartbeat != nil {
		defer l.heartbeat.Stopped()
	}

	for {
		select {
		case <-ctx.Done():
			stats := l.Stats()
			logger.InfoKV(ctx, "Detection loop stopped",
				"ticks", stats.Ticks,
				"skipped", stats.Skipped,
				"failures", stats.Failures,
				"alarms", stats.Alarms,
			)

			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one pass and records its outcome.
func (l *Loop) tick(ctx context.Context) {
	result, err := l.pipeline.Tick(ctx)

	l.ticks.Add(1)

	switch {
	case err != nil:
		l.failures.Add(1)
		l.pipeline.failures.ErrorKV(ctx, "Detection pass failed", "error", err)
	case result.Skipped:
		l.skipped.Add(1)
	case result.Transition.Fire:
		l.alarms.Add(1)
	}

	if l.heartbeat != nil {
		l.heartbeat.Beat(time.Now())
	}
}

// Stats returns a snapshot of the tick counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:    l.ticks.Load(),
		Skipped:  l.skipped.Load(),
		Failures: l.failures.Load(),
		Alarms:   l.alarms.Load(),
	}
}
