// Package drowsiness holds the decision logic of the monitor.
//
// Estimator turns detected eye regions into open/closed samples using the
// bounding-box aspect ratio, and Monitor debounces the per-frame "all eyes
// closed" signal into alarm and recovery edges. Both are pure: time is
// passed in and nothing here performs I/O.
package drowsiness
