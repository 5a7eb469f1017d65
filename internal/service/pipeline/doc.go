// Package pipeline runs the per-frame detection pass of the monitor.
//
// Every tick acquires one frame, converts it to grayscale, detects eye
// regions, classifies them, feeds the aggregate into the drowsiness monitor
// and drives the alarm controller on its edges. Ticks run one at a time on
// a single goroutine; a failing or panicking collaborator costs one tick,
// never the loop.
package pipeline
