package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/status"
)

// errorLogInterval spaces repeated per-tick error entries.
const errorLogInterval = 5 * time.Second

// Options wires the collaborators of a Pipeline.
type Options struct {
	Source    FrameSource
	Converter Converter
	Detector  Detector
	Estimator drowsiness.Estimator
	Monitor   *drowsiness.Monitor
	Alarm     Alarm
	// Annotator and Display are optional; without them frames are not shown.
	Annotator Annotator
	Display   Display
	// Status receives "eyes detected" notifications. Optional.
	Status status.Sink
	// Now returns the tick's wall clock time. Defaults to time.Now.
	Now func() time.Time
	// Debug logs every phase change.
	Debug bool
}

// Pipeline performs detection passes.
// It is driven by a single goroutine and holds no locks.
type Pipeline struct {
	opts     Options
	failures *logger.Throttle
}

var (
	// errMissingCollaborator is returned when a required collaborator is nil.
	errMissingCollaborator = errors.New("pipeline collaborator is required")
	// errTickPanic wraps a panic recovered from a collaborator.
	errTickPanic = errors.New("detection pass panicked")
)

// New validates the options and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, fmt.Errorf("%w: frame source", errMissingCollaborator)
	case opts.Converter == nil:
		return nil, fmt.Errorf("%w: grayscale converter", errMissingCollaborator)
	case opts.Detector == nil:
		return nil, fmt.Errorf("%w: eye detector", errMissingCollaborator)
	case opts.Monitor == nil:
		return nil, fmt.Errorf("%w: drowsiness monitor", errMissingCollaborator)
	case opts.Alarm == nil:
		return nil, fmt.Errorf("%w: alarm controller", errMissingCollaborator)
	}

	if opts.Estimator.Threshold == 0 {
		opts.Estimator = drowsiness.DefaultEstimator()
	}

	if opts.Status == nil {
		opts.Status = status.Func(func(string) {})
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		opts:     opts,
		failures: logger.NewThrottle(errorLogInterval, 1),
	}, nil
}

// Tick runs one detection pass. Errors and panics of collaborators are
// returned with a skipped result and leave the monitor untouched.
func (p *Pipeline) Tick(ctx context.Context) (result TickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = TickResult{Skipped: true}
			err = fmt.Errorf("%w: %v", errTickPanic, r)
		}
	}()

	frame, err := p.opts.Source.Acquire(ctx)
	if err != nil {
		return TickResult{Skipped: true}, fmt.Errorf("acquire frame: %w", err)
	}

	if frame == nil {
		return TickResult{Skipped: true}, nil
	}

	defer closeFrame(frame)

	samples, err := p.classify(frame)
	if err != nil {
		return TickResult{Skipped: true}, err
	}

	result = TickResult{
		Samples:   samples,
		AllClosed: drowsiness.AllClosed(samples),
	}

	result.Transition = p.opts.Monitor.Update(result.AllClosed, p.opts.Now())
	p.react(ctx, result)
	p.present(ctx, frame, samples)

	return result, nil
}

// classify converts, detects and estimates. It does not touch the monitor.
func (p *Pipeline) classify(frame Frame) ([]drowsiness.ClosureSample, error) {
	gray, err := p.opts.Converter.Grayscale(frame)
	if err != nil {
		return nil, fmt.Errorf("convert to grayscale: %w", err)
	}

	if gray != frame {
		defer closeFrame(gray)
	}

	regions, err := p.opts.Detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("detect eyes: %w", err)
	}

	return p.opts.Estimator.EstimateAll(regions), nil
}

// react drives the alarm and the status text from the monitor's transition.
func (p *Pipeline) react(ctx context.Context, result TickResult) {
	transition := result.Transition

	if p.opts.Debug && transition.Changed() {
		logger.DebugKV(ctx, "Phase changed",
			"from", transition.From.String(),
			"to", transition.To.String(),
			"regions", len(result.Samples),
			"closed_for", transition.ClosedFor.String(),
		)
	}

	switch {
	case transition.Fire:
		p.opts.Alarm.OnClosedSustained(ctx, transition.ClosureStart)
	case transition.Recover:
		p.opts.Alarm.OnRecovered(ctx)
	}

	if !result.AllClosed {
		p.opts.Status.SetText(status.TextEyesDetected)
	}
}

// present annotates and shows the frame. Failures are cosmetic.
func (p *Pipeline) present(ctx context.Context, frame Frame, samples []drowsiness.ClosureSample) {
	if p.opts.Annotator != nil {
		if err := p.opts.Annotator.Annotate(frame, samples); err != nil {
			p.failures.WarnKV(ctx, "Annotate frame failed", "error", err)
		}
	}

	if p.opts.Display != nil {
		if err := p.opts.Display.Show(frame); err != nil {
			p.failures.WarnKV(ctx, "Show frame failed", "error", err)
		}
	}
}

// closeFrame releases a frame, ignoring errors of already released frames.
func closeFrame(frame Frame) {
	_ = frame.Close()
}
