// Package vision adapts OpenCV (gocv) to the detection pipeline: camera
// capture, grayscale conversion, Haar cascade eye detection and the
// annotated preview window.
//
// The OpenCV bindings need cgo and a system OpenCV installation, so they are
// compiled only with the "opencv" build tag. Without it Open fails with
// ErrUnavailable and the monitor refuses to start.
package vision
