// Package camera owns the capture lifecycle: device acquisition, frame
// capture, preview, recognition, and the strict state machine tying them
// together.
package camera

import (
	"context"
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
)

// State is the capture lifecycle state machine:
//
//	initial -> active -> preview -> processing -> recognized
//	preview -> active (retake)
//	active|preview|processing -> error (failure); error -> initial|active (reset/retry)
//	recognized|error -> initial (reset, releasing the device)
//
// Actions not defined for the current state are no-ops: they do not fail and
// do not change state.
type State string

const (
	StateInitial    State = "initial"
	StateActive     State = "active"
	StatePreview    State = "preview"
	StateProcessing State = "processing"
	StateRecognized State = "recognized"
	StateErrored    State = "error"
)

// FrameSource is a live camera stream. Frame grabs the current frame as JPEG
// bytes; Stop releases the device.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
	Stop() error
}

// Acquirer opens the camera device.
type Acquirer interface {
	Acquire(ctx context.Context) (FrameSource, error)
}

// Problem is one recognized problem from a captured image.
type Problem struct {
	Text       string
	Type       string
	Difficulty string
	Expression string
}

// Result is the outcome of recognizing a captured image.
type Result struct {
	Problems          []Problem
	Confidence        float64
	NeedsConfirmation bool
}

// Recognizer runs one recognition call over raw base64 image data.
type Recognizer interface {
	Recognize(ctx context.Context, imageData, mimeType string) (*Result, error)
}

var dataURIMime = regexp.MustCompile(`^data:([^;,]+)`)

// Controller drives the capture state machine. At most one live device
// stream exists at a time; Reset and teardown release it.
type Controller struct {
	acquirer   Acquirer
	recognizer Recognizer
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	source  FrameSource
	image   string // captured frame as a data URI
	result  *Result
	lastErr *device.Error
}

// NewController creates a controller in the initial state.
func NewController(acquirer Acquirer, recognizer Recognizer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		acquirer:   acquirer,
		recognizer: recognizer,
		logger:     logger,
		state:      StateInitial,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Image returns the captured frame as a data URI, if any.
func (c *Controller) Image() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// Result returns the recognition result, if any.
func (c *Controller) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the classified error that moved the controller into the error
// state, if any.
func (c *Controller) Err() *device.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// StartCamera acquires the device and enters the active state. Valid from
// initial and from error (retry); a no-op elsewhere. Acquisition failures
// are classified and move the controller to error.
func (c *Controller) StartCamera(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitial && c.state != StateErrored {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	source, err := c.acquirer.Acquire(ctx)
	if err != nil {
		classified := asDeviceError(err)
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = classified
		c.mu.Unlock()
		return classified
	}

	c.mu.Lock()
	c.source = source
	c.state = StateActive
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

// CaptureImage grabs the current frame, stores it as a compressed-JPEG data
// URI, and enters preview. Valid only from active; a no-op elsewhere. No
// network call is involved.
func (c *Controller) CaptureImage(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive || c.source == nil {
		c.mu.Unlock()
		return nil
	}
	source := c.source
	c.mu.Unlock()

	frame, err := source.Frame(ctx)
	if err != nil {
		classified := asDeviceError(err)
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = classified
		c.mu.Unlock()
		return classified
	}

	c.mu.Lock()
	c.image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame)
	c.state = StatePreview
	c.mu.Unlock()
	return nil
}

// Retake returns from preview to active. When the device stream is still
// held it is reused; otherwise acquisition runs again. A no-op outside
// preview.
func (c *Controller) Retake(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePreview {
		c.mu.Unlock()
		return nil
	}
	if c.source != nil {
		c.image = ""
		c.state = StateActive
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	source, err := c.acquirer.Acquire(ctx)
	if err != nil {
		classified := asDeviceError(err)
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = classified
		c.mu.Unlock()
		return classified
	}

	c.mu.Lock()
	c.source = source
	c.image = ""
	c.state = StateActive
	c.mu.Unlock()
	return nil
}

// RecognizeImage extracts the stored data URI's payload and MIME type, runs
// one recognition call, and enters recognized or error. Valid only from
// preview; a no-op elsewhere. Any rejection maps to recognition_failed with
// no automatic retry.
func (c *Controller) RecognizeImage(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePreview || c.image == "" {
		c.mu.Unlock()
		return nil
	}
	imageData, mimeType := splitDataURI(c.image)
	c.state = StateProcessing
	c.mu.Unlock()

	result, err := c.recognizer.Recognize(ctx, imageData, mimeType)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateProcessing {
		// Reset ran while the call was in flight; drop the outcome.
		return nil
	}
	if err != nil {
		classified := device.New(device.KindCamera, device.CodeRecognitionFailed, err)
		c.state = StateErrored
		c.lastErr = classified
		return classified
	}
	c.result = result
	c.state = StateRecognized
	return nil
}

// Reset returns to initial from any state, releasing the device stream and
// clearing the captured image, result, and error.
func (c *Controller) Reset() {
	c.mu.Lock()
	source := c.source
	c.source = nil
	c.image = ""
	c.result = nil
	c.lastErr = nil
	c.state = StateInitial
	c.mu.Unlock()

	if source != nil {
		if err := source.Stop(); err != nil {
			c.logger.Warn("camera release failed", "error", err)
		}
	}
}

// splitDataURI separates a data URI into its base64 payload (after the comma
// separator) and its MIME token.
func splitDataURI(uri string) (payload, mimeType string) {
	if idx := strings.IndexByte(uri, ','); idx >= 0 {
		payload = uri[idx+1:]
	}
	if m := dataURIMime.FindStringSubmatch(uri); len(m) == 2 {
		mimeType = m[1]
	}
	return payload, mimeType
}

func asDeviceError(err error) *device.Error {
	if classified, ok := err.(*device.Error); ok {
		return classified
	}
	return device.Classify(device.KindCamera, err, "")
}
