// Package alarm owns the alarm lifecycle of the drowsiness monitor.
//
// Controller starts one playback session when a sustained closure is
// confirmed, refuses to start a second one while the first is live, and
// stops it when the operator recovers. Playback runs on its own goroutine so
// the detection loop never waits for audio. Each fired alarm is tracked as
// an Incident and reported to observers when it opens and closes.
package alarm
