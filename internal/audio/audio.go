package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gopxl/beep/v2/wav"
)

// Sink starts playback of a sound asset.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string
	// Play starts playing the asset and returns without waiting for it to end.
	Play(ctx context.Context, asset string) (Playback, error)
}

// Playback is one sound being played.
type Playback interface {
	// Wait blocks until the sound ends. It returns ErrStopped after Stop.
	Wait() error
	// Stop ends playback early. It is safe to call more than once.
	Stop()
}

// Asset describes a decoded sound file.
type Asset struct {
	// Path is the cleaned file path.
	Path string
	// Duration is the natural length of the sound.
	Duration time.Duration
	// SampleRate is the number of samples per second.
	SampleRate int
	// Channels is the number of audio channels.
	Channels int
}

var (
	// ErrStopped is returned by Playback.Wait after Stop.
	ErrStopped = errors.New("playback stopped")
	// ErrNoPlayer is returned when no audio player program can be found.
	ErrNoPlayer = errors.New("no audio player found")
)

// Probe decodes the header of a WAV asset and returns its description.
func Probe(path string) (*Asset, error) {
	path = filepath.Clean(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alarm asset: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("decode alarm asset %s: %w", path, err)
	}

	// Closes f as well.
	defer func() {
		_ = streamer.Close()
	}()

	return &Asset{
		Path:       path,
		Duration:   format.SampleRate.D(streamer.Len()),
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
	}, nil
}
