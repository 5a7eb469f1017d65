// Package monitor is the composition root of drowsy-monitor: it loads the
// settings, wires vision, audio, the alarm controller, events and the health
// endpoint around the detection pipeline, and runs the loop until the context
// is canceled.
package monitor
