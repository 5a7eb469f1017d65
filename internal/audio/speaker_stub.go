//go:build !speaker

package audio

import (
	"context"
	"errors"
)

// ErrSpeakerUnavailable is returned when the binary was built without the speaker tag.
var ErrSpeakerUnavailable = errors.New("speaker backend not compiled in, rebuild with -tags speaker")

// SpeakerSink is unavailable in this build.
type SpeakerSink struct{}

// NewSpeakerSink always fails in builds without the speaker tag.
func NewSpeakerSink() (*SpeakerSink, error) {
	return nil, ErrSpeakerUnavailable
}

// Name identifies the sink.
func (s *SpeakerSink) Name() string {
	return "speaker"
}

// Play always fails in builds without the speaker tag.
//
//nolint:ireturn // Callers work with the Playback abstraction.
func (s *SpeakerSink) Play(context.Context, string) (Playback, error) {
	return nil, ErrSpeakerUnavailable
}
