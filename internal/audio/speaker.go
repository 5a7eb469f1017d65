//go:build speaker

package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

// speakerBuffer is the latency of the speaker buffer.
const speakerBuffer = 100 * time.Millisecond

// resampleQuality is the beep resampling quality for assets at a foreign rate.
const resampleQuality = 4

// SpeakerSink plays sounds through the system speaker in-process.
// The speaker is initialised with the sample rate of the first asset.
type SpeakerSink struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

// NewSpeakerSink returns a sink backed by the beep speaker.
func NewSpeakerSink() (*SpeakerSink, error) {
	return new(SpeakerSink), nil
}

// Name identifies the sink.
func (s *SpeakerSink) Name() string {
	return "speaker"
}

// Play decodes asset and queues it on the speaker.
//
//nolint:ireturn // Callers work with the Playback abstraction.
func (s *SpeakerSink) Play(ctx context.Context, asset string) (Playback, error) {
	f, err := os.Open(filepath.Clean(asset))
	if err != nil {
		return nil, fmt.Errorf("open alarm asset: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("decode alarm asset: %w", err)
	}

	rate, err := s.init(format.SampleRate)
	if err != nil {
		_ = streamer.Close()

		return nil, err
	}

	var source beep.Streamer = streamer
	if rate != format.SampleRate {
		source = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}

	p := &speakerPlayback{
		source:  streamer,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.ctrl = &beep.Ctrl{Streamer: beep.Seq(source, beep.Callback(func() { close(p.done) }))}

	speaker.Play(p.ctrl)

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		case <-p.stopped:
		}
	}()

	return p, nil
}

// init starts the speaker once and returns its sample rate.
func (s *SpeakerSink) init(rate beep.SampleRate) (beep.SampleRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rate != 0 {
		return s.rate, nil
	}

	if err := speaker.Init(rate, rate.N(speakerBuffer)); err != nil {
		return 0, fmt.Errorf("init speaker: %w", err)
	}

	s.rate = rate

	return rate, nil
}

// speakerPlayback is one sound queued on the speaker.
type speakerPlayback struct {
	ctrl     *beep.Ctrl
	source   beep.StreamSeekCloser
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// Wait blocks until the sound ends or is stopped.
func (p *speakerPlayback) Wait() error {
	defer func() {
		_ = p.source.Close()
	}()

	select {
	case <-p.done:
		return nil
	case <-p.stopped:
		return ErrStopped
	}
}

// Stop removes the sound from the speaker mixer.
func (p *speakerPlayback) Stop() {
	p.stopOnce.Do(func() {
		speaker.Lock()
		p.ctrl.Streamer = nil
		speaker.Unlock()

		close(p.stopped)
	})
}
