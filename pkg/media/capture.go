package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string // ffmpeg input format: pulse, alsa, avfoundation, dshow
	InputDevice string
}

// CaptureSession is a live microphone capture delivering 16-bit little-endian
// PCM at the configured rate. Stop releases the device; it is safe to call
// more than once and must be called on every path, including errors.
type CaptureSession interface {
	io.ReadCloser
	Stop() error
}

// Capture acquires microphone sessions by spawning ffmpeg and reading raw
// PCM from its stdout. Acquisition failures come back as classified
// *device.Error values, never raw exec errors.
type Capture struct {
	command string
}

// NewCapture creates a capture source using the given ffmpeg binary.
func NewCapture(command string) *Capture {
	if command == "" {
		command = "ffmpeg"
	}
	return &Capture{command: command}
}

// Start opens the microphone. The device is released when the returned
// session is stopped or the context is cancelled.
func (c *Capture) Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = CaptureSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, device.Classify(device.KindMicrophone, err, "")
	}
	if err := cmd.Start(); err != nil {
		return nil, device.Classify(device.KindMicrophone, err, stderr.String())
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An immediate exit means the device could not be opened; classify it
	// from ffmpeg's stderr instead of leaking the exec error.
	select {
	case err := <-waitErr:
		if err == nil {
			err = errors.New("capture process exited before producing audio")
		}
		return nil, device.Classify(device.KindMicrophone, err, stderr.String())
	case <-time.After(250 * time.Millisecond):
	}

	return &captureSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type captureSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	// An interrupt-driven exit status is the normal shutdown path.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Pump reads capture blocks and forwards each one to sink as soon as the
// device delivers it; there is no batching beyond the read size. It returns
// when the session ends or the sink fails.
func Pump(session CaptureSession, chunkSize int, sink func(pcm []byte) error) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			if sendErr := sink(buf[:n]); sendErr != nil {
				return fmt.Errorf("forward captured audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
