package camera

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"sync"

	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
)

// FFmpegConfig describes the camera input passed to ffmpeg.
type FFmpegConfig struct {
	Command     string // ffmpeg binary, default "ffmpeg"
	InputFormat string // v4l2, avfoundation, dshow; default v4l2
	InputDevice string // default /dev/video0
	Quality     int    // mjpeg -q:v, default 5
}

// FFmpegAcquirer opens the camera by grabbing single JPEG frames through
// ffmpeg. Each Frame call spawns one short-lived process; the acquirer itself
// carries no long-running state, so the returned source's Stop is cheap.
type FFmpegAcquirer struct {
	cfg FFmpegConfig
}

// NewFFmpegAcquirer creates an acquirer with defaults filled in.
func NewFFmpegAcquirer(cfg FFmpegConfig) *FFmpegAcquirer {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "/dev/video0"
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 5
	}
	return &FFmpegAcquirer{cfg: cfg}
}

// Acquire probes the device with one frame grab so permission and presence
// failures surface at start time, then hands back a source for further grabs.
func (a *FFmpegAcquirer) Acquire(ctx context.Context) (FrameSource, error) {
	source := &ffmpegSource{cfg: a.cfg}
	if _, err := source.Frame(ctx); err != nil {
		return nil, err
	}
	return source, nil
}

type ffmpegSource struct {
	cfg FFmpegConfig

	mu      sync.Mutex
	stopped bool
}

func (s *ffmpegSource) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, device.New(device.KindCamera, device.CodeNotAvailable,
			errors.New("camera source is stopped"))
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.InputFormat,
		"-i", s.cfg.InputDevice,
		"-frames:v", "1",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(s.cfg.Quality),
		"-f", "image2",
		"-",
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, device.Classify(device.KindCamera, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, device.Classify(device.KindCamera,
			errors.New("camera produced no frame"), stderr.String())
	}
	return stdout.Bytes(), nil
}

func (s *ffmpegSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}
