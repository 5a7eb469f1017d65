package audio

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// player is an external program that plays a file given as its last argument.
type player struct {
	name string
	args []string
}

// CommandSink plays sounds by running a platform audio player.
type CommandSink struct {
	player player
}

// CommandOption configures a CommandSink.
type CommandOption func(*CommandSink)

// WithPlayer overrides the detected player program.
// The asset path is appended after args.
func WithPlayer(name string, args ...string) CommandOption {
	return func(s *CommandSink) {
		s.player = player{name: name, args: args}
	}
}

// NewCommandSink selects a player for the current OS:
// - Linux:   paplay, aplay or ffplay, whichever is installed first
// - macOS:   afplay
// - Windows: PowerShell with System.Media.SoundPlayer
func NewCommandSink(opts ...CommandOption) (*CommandSink, error) {
	s := new(CommandSink)
	for _, opt := range opts {
		opt(s)
	}

	if s.player.name != "" {
		return s, nil
	}

	detected, err := detectPlayer(runtime.GOOS, exec.LookPath)
	if err != nil {
		return nil, err
	}

	s.player = detected

	return s, nil
}

// Name returns the player program.
func (s *CommandSink) Name() string {
	return "command:" + s.player.name
}

// Play starts the player process for asset.
//
//nolint:ireturn // Callers work with the Playback abstraction.
func (s *CommandSink) Play(ctx context.Context, asset string) (Playback, error) {
	playCtx, cancel := context.WithCancel(ctx)

	args := append(append([]string(nil), s.player.args...), asset)
	if s.player.name == "powershell.exe" {
		// SoundPlayer takes the path inside the script, not as an argument.
		args = append(append([]string(nil), s.player.args...), powershellScript(asset))
	}

	//nolint:gosec // The player and asset come from trusted configuration.
	cmd := exec.CommandContext(playCtx, s.player.name, args...)
	if err := cmd.Start(); err != nil {
		cancel()

		return nil, fmt.Errorf("start %s: %w", s.player.name, err)
	}

	p := &commandPlayback{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// commandPlayback tracks one player process.
type commandPlayback struct {
	cancel context.CancelFunc
	// done is closed once err holds the process exit status.
	done chan struct{}
	err  error

	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool
}

// Wait blocks until the player exits.
func (p *commandPlayback) Wait() error {
	<-p.done

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()

	switch {
	case stopped:
		return ErrStopped
	case p.err != nil:
		return fmt.Errorf("audio player: %w", p.err)
	default:
		return nil
	}
}

// Stop kills the player process.
func (p *commandPlayback) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		select {
		case <-p.done:
			// Already finished on its own.
		default:
			p.stopped = true
		}
		p.mu.Unlock()

		p.cancel()
	})
}

// detectPlayer picks a player program for goos using lookPath.
func detectPlayer(goos string, lookPath func(string) (string, error)) (player, error) {
	var candidates []player

	switch strings.ToLower(goos) {
	case "linux", "freebsd", "openbsd", "netbsd":
		candidates = []player{
			{name: "paplay"},
			{name: "aplay", args: []string{"-q"}},
			{name: "ffplay", args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
		}
	case "darwin":
		candidates = []player{{name: "afplay"}}
	case "windows":
		candidates = []player{{name: "powershell.exe", args: []string{"-NoProfile", "-NonInteractive", "-Command"}}}
	default:
		return player{}, fmt.Errorf("%w: unsupported operating system %s", ErrNoPlayer, goos)
	}

	for _, candidate := range candidates {
		if _, err := lookPath(candidate.name); err == nil {
			return candidate, nil
		}
	}

	return player{}, fmt.Errorf("%w: tried %d programs on %s", ErrNoPlayer, len(candidates), goos)
}

// powershellScript plays asset synchronously so the process lives as long as the sound.
func powershellScript(asset string) string {
	escaped := strings.ReplaceAll(asset, "'", "''")

	return "(New-Object Media.SoundPlayer '" + escaped + "').PlaySync()"
}
