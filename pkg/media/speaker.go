package media

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// Speaker is anything that accepts 16-bit little-endian PCM for playback.
type Speaker interface {
	Write(pcm []byte) error
	Close() error
}

// FFPlaySpeaker plays PCM by piping it into an ffplay subprocess.
type FFPlaySpeaker struct {
	path       string
	sampleRate int
	channels   int

	runningMu sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
}

// NewFFPlaySpeaker creates a speaker for the given output format.
func NewFFPlaySpeaker(path string, sampleRate, channels int) *FFPlaySpeaker {
	if path == "" {
		path = "ffplay"
	}
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	return &FFPlaySpeaker{path: path, sampleRate: sampleRate, channels: channels}
}

// EnsureRunning starts the ffplay process if it is not already running.
func (s *FFPlaySpeaker) EnsureRunning() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.startLocked()
}

func (s *FFPlaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
	chLayout := "mono"
	if s.channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" {
		// ffplay uses SDL on macOS; prefer CoreAudio unless overridden.
		if os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.runningMu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.runningMu.Unlock()
	}(cmd)
	return nil
}

func (s *FFPlaySpeaker) Write(pcm []byte) error {
	if s == nil || len(pcm) == 0 {
		return nil
	}
	if err := s.EnsureRunning(); err != nil {
		return err
	}
	s.runningMu.Lock()
	stdin := s.stdin
	s.runningMu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ffplay is not running")
	}
	_, err := stdin.Write(pcm)
	return err
}

func (s *FFPlaySpeaker) Close() error {
	if s == nil {
		return nil
	}
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}
