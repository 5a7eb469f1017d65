package pipeline

import (
	"context"
	"time"

	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
)

// Frame is a captured image owned by one tick.
// Implementations must be comparable, pointer types are expected.
type Frame interface {
	// Close releases the frame's pixel memory.
	Close() error
}

// FrameSource supplies frames on demand.
type FrameSource interface {
	// Acquire returns the next frame, or nil and no error when none is ready.
	Acquire(ctx context.Context) (Frame, error)
}

// Converter turns a frame into its grayscale counterpart.
// It may return the input frame itself when it is already grayscale;
// any other returned frame is released by the caller.
type Converter interface {
	Grayscale(frame Frame) (Frame, error)
}

// Detector finds candidate eye regions in a grayscale frame.
type Detector interface {
	Detect(gray Frame) ([]drowsiness.EyeRegion, error)
}

// Annotator draws per-region markers onto a frame.
type Annotator interface {
	Annotate(frame Frame, samples []drowsiness.ClosureSample) error
}

// Display presents an annotated frame.
type Display interface {
	Show(frame Frame) error
}

// Alarm reacts to the edges of the drowsiness monitor.
type Alarm interface {
	OnClosedSustained(ctx context.Context, closedAt time.Time) bool
	OnRecovered(ctx context.Context) bool
}

// TickResult summarises one detection pass.
type TickResult struct {
	// Skipped is set when no frame was available or the pass failed.
	Skipped bool
	// Samples are the classified regions in detection order.
	Samples []drowsiness.ClosureSample
	// AllClosed is the aggregate fed into the monitor.
	AllClosed bool
	// Transition is the monitor's reaction.
	Transition drowsiness.Transition
}
