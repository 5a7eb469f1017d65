// Package status carries the one-line, user-visible monitor status.
package status

import (
	"context"
	"sync"

	"github.com/oshokin/drowsy-alarm/internal/logger"
)

const (
	// TextEyesDetected is shown while at least one open eye is visible.
	TextEyesDetected = "Eyes are detected!"
	// TextEyesNotDetected is shown when the alarm fires.
	TextEyesNotDetected = "Eyes are not detected!"
	// TextAlarmErrorPrefix prefixes alarm playback failures.
	TextAlarmErrorPrefix = "Error playing alarm: "
)

// Sink receives status text. Calls must not block.
type Sink interface {
	SetText(text string)
}

// Func adapts a function to Sink.
type Func func(text string)

// SetText calls f.
func (f Func) SetText(text string) {
	f(text)
}

// Multi fans status text out to several sinks.
type Multi []Sink

// SetText forwards text to every non-nil sink.
func (m Multi) SetText(text string) {
	for _, sink := range m {
		if sink != nil {
			sink.SetText(text)
		}
	}
}

// LogSink writes status changes to the log, skipping repeats.
type LogSink struct {
	//nolint:containedctx // The sink logs with the monitor's scoped logger.
	ctx  context.Context
	mu   sync.Mutex
	last string
}

// NewLogSink returns a sink that logs through the logger carried by ctx.
func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{ctx: logger.WithName(ctx, "status")}
}

// SetText logs text when it differs from the previous one.
func (s *LogSink) SetText(text string) {
	s.mu.Lock()
	changed := text != s.last
	s.last = text
	s.mu.Unlock()

	if changed {
		logger.InfoKV(s.ctx, "Status changed", "status", text)
	}
}

// Text returns the last status text.
func (s *LogSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}
