package vision

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
	"github.com/oshokin/drowsy-alarm/internal/service/pipeline"
)

// ErrUnavailable is returned by Open when the binary was built without OpenCV.
var ErrUnavailable = errors.New("vision support is not compiled in, rebuild with -tags opencv")

var (
	// errCascadeLoad is returned when the cascade model cannot be loaded.
	errCascadeLoad = errors.New("load eye cascade")
	// errCameraOpen is returned when the capture device cannot be opened.
	errCameraOpen = errors.New("open camera")
	// errEmptyDevice is returned for a blank device setting.
	errEmptyDevice = errors.New("camera device is empty")
)

var (
	// OpenColor marks eyes classified open.
	OpenColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	// ClosedColor marks eyes classified closed.
	ClosedColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// markerThickness is the stroke width of the eye circles.
const markerThickness = 2

// Options configures the OpenCV stack.
type Options struct {
	// Device is a camera index, a video file or a stream URL.
	Device string
	// Mirror flips frames horizontally.
	Mirror       bool
	CascadeFile  string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	// Display opens the preview window.
	Display     bool
	WindowTitle string
}

// Stack bundles the pipeline collaborators backed by OpenCV.
// Annotator and Display are nil when the preview is disabled.
type Stack struct {
	Source    pipeline.FrameSource
	Converter pipeline.Converter
	Detector  pipeline.Detector
	Annotator pipeline.Annotator
	Display   pipeline.Display
	// Overlay holds the status text drawn onto previewed frames.
	Overlay *Overlay

	closers []io.Closer
}

// Close releases every native resource of the stack.
func (s *Stack) Close() error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.closers = nil

	return errors.Join(errs...)
}

// Marker is the circle drawn around one classified eye.
type Marker struct {
	X, Y   int
	Radius int
	Color  color.RGBA
}

// MarkerFor centres a circle of half the region width on the region.
func MarkerFor(sample drowsiness.ClosureSample) Marker {
	x, y := sample.Region.Center()

	marker := Marker{
		X:      x,
		Y:      y,
		Radius: max(sample.Region.Width/2, 1),
		Color:  ClosedColor,
	}

	if sample.IsOpen {
		marker.Color = OpenColor
	}

	return marker
}

// Device is a parsed capture device: a camera index or a file/URL.
type Device struct {
	Index int
	Path  string
}

// IsIndex reports whether the device is a camera index.
func (d Device) IsIndex() bool {
	return d.Path == ""
}

// String returns the device as configured.
func (d Device) String() string {
	if d.IsIndex() {
		return strconv.Itoa(d.Index)
	}

	return d.Path
}

// ParseDevice reads a non-negative integer as a camera index and anything else
// as a path or URL.
func ParseDevice(raw string) (Device, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Device{}, errEmptyDevice
	}

	index, err := strconv.Atoi(raw)
	if err == nil && index >= 0 {
		return Device{Index: index}, nil
	}

	return Device{Path: raw}, nil
}

// Overlay is a concurrency safe holder of the text drawn on the preview.
// It implements status.Sink.
type Overlay struct {
	mu   sync.RWMutex
	text string
}

// SetText replaces the overlay text.
func (o *Overlay) SetText(text string) {
	o.mu.Lock()
	o.text = text
	o.mu.Unlock()
}

// Text returns the current overlay text.
func (o *Overlay) Text() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.text
}

// wrap annotates an error with the device it concerns.
func wrap(sentinel error, subject string, err error) error {
	if err == nil {
		return fmt.Errorf("%w %q", sentinel, subject)
	}

	return fmt.Errorf("%w %q: %w", sentinel, subject, err)
}
