// Package audio plays the alarm sound.
//
// Two sinks are available: CommandSink runs the platform's audio player as a
// child process and works without cgo, and SpeakerSink (build tag "speaker")
// plays through the in-process beep speaker. Probe validates a WAV asset
// ahead of time.
package audio
