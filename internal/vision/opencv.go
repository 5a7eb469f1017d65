//go:build opencv

package vision

import (
	"context"
	"errors"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
	"github.com/oshokin/drowsy-alarm/internal/service/pipeline"
)

const (
	// overlayScale is the font scale of the status text.
	overlayScale = 0.7
	// overlayMargin is the offset of the status text from the top-left corner.
	overlayMargin = 30
	// waitKeyDelay lets the window process its events, in milliseconds.
	waitKeyDelay = 1
)

var (
	errNotMat       = errors.New("frame is not an OpenCV matrix")
	errEmptyFrame   = errors.New("frame is empty")
	errWindowClosed = errors.New("preview window is closed")
)

// Mat is a pipeline frame backed by an OpenCV matrix.
type Mat struct {
	mat gocv.Mat
}

// Close releases the matrix.
func (m *Mat) Close() error {
	return m.mat.Close()
}

// Open builds the OpenCV stack: it loads the cascade first so a missing model
// fails before the camera is touched.
func Open(opts Options) (*Stack, error) {
	device, err := ParseDevice(opts.Device)
	if err != nil {
		return nil, err
	}

	stack := &Stack{Overlay: new(Overlay)}

	detector, err := newEyeDetector(opts)
	if err != nil {
		return nil, err
	}

	stack.closers = append(stack.closers, detector)

	camera, err := newCamera(device, opts.Mirror)
	if err != nil {
		_ = stack.Close()

		return nil, err
	}

	stack.closers = append(stack.closers, camera)
	stack.Source = camera
	stack.Converter = grayscale{}
	stack.Detector = detector

	if opts.Display {
		renderer := newRenderer(opts.WindowTitle, stack.Overlay)
		stack.closers = append(stack.closers, renderer)
		stack.Annotator = renderer
		stack.Display = renderer
	}

	return stack, nil
}

// camera reads frames from a capture device.
type camera struct {
	capture *gocv.VideoCapture
	mirror  bool
}

func newCamera(device Device, mirror bool) (*camera, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)

	if device.IsIndex() {
		capture, err = gocv.OpenVideoCapture(device.Index)
	} else {
		capture, err = gocv.OpenVideoCapture(device.Path)
	}

	if err != nil {
		return nil, wrap(errCameraOpen, device.String(), err)
	}

	if !capture.IsOpened() {
		_ = capture.Close()

		return nil, wrap(errCameraOpen, device.String(), nil)
	}

	return &camera{capture: capture, mirror: mirror}, nil
}

// Acquire reads one frame. A failed or empty read yields no frame.
//
//nolint:ireturn // Mirrors the FrameSource contract.
func (c *camera) Acquire(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()

		return nil, nil
	}

	if c.mirror {
		if err := gocv.Flip(mat, &mat, 1); err != nil {
			_ = mat.Close()

			return nil, err
		}
	}

	return &Mat{mat: mat}, nil
}

func (c *camera) Close() error {
	return c.capture.Close()
}

// grayscale converts BGR camera frames to single channel images.
type grayscale struct{}

// Grayscale returns a new grayscale matrix, or frame itself when it already
// has a single channel.
//
//nolint:ireturn // Mirrors the Converter contract.
func (grayscale) Grayscale(frame pipeline.Frame) (pipeline.Frame, error) {
	src, err := asMat(frame)
	if err != nil {
		return nil, err
	}

	if src.mat.Channels() == 1 {
		return frame, nil
	}

	gray := gocv.NewMat()
	if err := gocv.CvtColor(src.mat, &gray, gocv.ColorBGRToGray); err != nil {
		_ = gray.Close()

		return nil, err
	}

	return &Mat{mat: gray}, nil
}

// eyeDetector runs a Haar cascade over grayscale frames.
type eyeDetector struct {
	classifier   gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point
}

func newEyeDetector(opts Options) (*eyeDetector, error) {
	if _, err := os.Stat(opts.CascadeFile); err != nil {
		return nil, wrap(errCascadeLoad, opts.CascadeFile, err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(opts.CascadeFile) {
		_ = classifier.Close()

		return nil, wrap(errCascadeLoad, opts.CascadeFile, nil)
	}

	return &eyeDetector{
		classifier:   classifier,
		scaleFactor:  opts.ScaleFactor,
		minNeighbors: opts.MinNeighbors,
		minSize:      image.Pt(opts.MinSize, opts.MinSize),
	}, nil
}

// Detect returns the eye boxes found in gray.
func (d *eyeDetector) Detect(gray pipeline.Frame) ([]drowsiness.EyeRegion, error) {
	src, err := asMat(gray)
	if err != nil {
		return nil, err
	}

	rects := d.classifier.DetectMultiScaleWithParams(
		src.mat, d.scaleFactor, d.minNeighbors, 0, d.minSize, image.Pt(0, 0),
	)

	regions := make([]drowsiness.EyeRegion, 0, len(rects))
	for _, rect := range rects {
		regions = append(regions, drowsiness.EyeRegion{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		})
	}

	return regions, nil
}

func (d *eyeDetector) Close() error {
	return d.classifier.Close()
}

// renderer draws markers and the status overlay and shows the result.
type renderer struct {
	window  *gocv.Window
	overlay *Overlay
}

func newRenderer(title string, overlay *Overlay) *renderer {
	return &renderer{
		window:  gocv.NewWindow(title),
		overlay: overlay,
	}
}

// Annotate circles every eye and prints the current status text.
func (r *renderer) Annotate(frame pipeline.Frame, samples []drowsiness.ClosureSample) error {
	dst, err := asMat(frame)
	if err != nil {
		return err
	}

	var errs []error

	for _, sample := range samples {
		marker := MarkerFor(sample)

		err := gocv.Circle(&dst.mat, image.Pt(marker.X, marker.Y), marker.Radius, marker.Color, markerThickness)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if text := r.overlay.Text(); text != "" {
		err := gocv.PutText(&dst.mat, text, image.Pt(overlayMargin/2, overlayMargin),
			gocv.FontHersheySimplex, overlayScale, OpenColor, markerThickness)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Show presents frame and pumps the window event queue.
func (r *renderer) Show(frame pipeline.Frame) error {
	src, err := asMat(frame)
	if err != nil {
		return err
	}

	if !r.window.IsOpen() {
		return errWindowClosed
	}

	r.window.IMShow(src.mat)
	r.window.WaitKey(waitKeyDelay)

	return nil
}

func (r *renderer) Close() error {
	return r.window.Close()
}

// asMat unwraps a pipeline frame produced by this package.
func asMat(frame pipeline.Frame) (*Mat, error) {
	m, ok := frame.(*Mat)
	if !ok {
		return nil, errNotMat
	}

	if m.mat.Empty() {
		return nil, errEmptyFrame
	}

	return m, nil
}
