package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
)

type fakeSource struct {
	frame    []byte
	frameErr error
	frames   int
	stops    int
}

func (f *fakeSource) Frame(ctx context.Context) ([]byte, error) {
	f.frames++
	if f.frameErr != nil {
		return nil, f.frameErr
	}
	return f.frame, nil
}

func (f *fakeSource) Stop() error {
	f.stops++
	return nil
}

type fakeAcquirer struct {
	source   *fakeSource
	err      error
	acquires int
}

func (f *fakeAcquirer) Acquire(ctx context.Context) (FrameSource, error) {
	f.acquires++
	if f.err != nil {
		return nil, f.err
	}
	return f.source, nil
}

type fakeRecognizer struct {
	result       *Result
	err          error
	gotImageData string
	gotMimeType  string
	calls        int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, imageData, mimeType string) (*Result, error) {
	f.calls++
	f.gotImageData = imageData
	f.gotMimeType = mimeType
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestController_HappyPath(t *testing.T) {
	t.Parallel()

	source := &fakeSource{frame: []byte("jpeg-bytes")}
	acquirer := &fakeAcquirer{source: source}
	recognizer := &fakeRecognizer{result: &Result{
		Problems:   []Problem{{Text: "5 + 6 = ?", Type: "math"}},
		Confidence: 0.88,
	}}
	c := NewController(acquirer, recognizer, nil)

	if got := c.State(); got != StateInitial {
		t.Fatalf("initial state = %s", got)
	}

	ctx := context.Background()
	if err := c.StartCamera(ctx); err != nil {
		t.Fatalf("StartCamera error: %v", err)
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("state after start = %s", got)
	}

	if err := c.CaptureImage(ctx); err != nil {
		t.Fatalf("CaptureImage error: %v", err)
	}
	if got := c.State(); got != StatePreview {
		t.Fatalf("state after capture = %s", got)
	}
	wantURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	if got := c.Image(); got != wantURI {
		t.Fatalf("image = %q, want %q", got, wantURI)
	}

	if err := c.RecognizeImage(ctx); err != nil {
		t.Fatalf("RecognizeImage error: %v", err)
	}
	if got := c.State(); got != StateRecognized {
		t.Fatalf("state after recognize = %s", got)
	}
	if recognizer.gotMimeType != "image/jpeg" {
		t.Fatalf("mime type = %q", recognizer.gotMimeType)
	}
	if recognizer.gotImageData != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
		t.Fatalf("image data = %q", recognizer.gotImageData)
	}
	result := c.Result()
	if result == nil || len(result.Problems) != 1 || result.Problems[0].Text != "5 + 6 = ?" {
		t.Fatalf("result = %+v", result)
	}

	c.Reset()
	if got := c.State(); got != StateInitial {
		t.Fatalf("state after reset = %s", got)
	}
	if source.stops != 1 {
		t.Fatalf("stops = %d, want 1", source.stops)
	}
	if c.Image() != "" || c.Result() != nil {
		t.Fatal("reset must clear image and result")
	}
}

func TestController_InvalidActionsAreNoOps(t *testing.T) {
	t.Parallel()

	source := &fakeSource{frame: []byte("f")}
	acquirer := &fakeAcquirer{source: source}
	recognizer := &fakeRecognizer{result: &Result{}}
	c := NewController(acquirer, recognizer, nil)
	ctx := context.Background()

	// Nothing is legal from initial except StartCamera.
	if err := c.CaptureImage(ctx); err != nil {
		t.Fatalf("CaptureImage in initial = %v, want nil no-op", err)
	}
	if err := c.Retake(ctx); err != nil {
		t.Fatalf("Retake in initial = %v, want nil no-op", err)
	}
	if err := c.RecognizeImage(ctx); err != nil {
		t.Fatalf("RecognizeImage in initial = %v, want nil no-op", err)
	}
	if got := c.State(); got != StateInitial {
		t.Fatalf("state = %s, want initial", got)
	}
	if acquirer.acquires != 0 || source.frames != 0 || recognizer.calls != 0 {
		t.Fatal("no-op actions must not touch ports")
	}

	// StartCamera twice: the second is a no-op.
	if err := c.StartCamera(ctx); err != nil {
		t.Fatalf("StartCamera error: %v", err)
	}
	if err := c.StartCamera(ctx); err != nil {
		t.Fatalf("second StartCamera = %v, want nil no-op", err)
	}
	if acquirer.acquires != 1 {
		t.Fatalf("acquires = %d, want 1", acquirer.acquires)
	}

	// RecognizeImage from active is a no-op.
	if err := c.RecognizeImage(ctx); err != nil {
		t.Fatalf("RecognizeImage in active = %v, want nil no-op", err)
	}
	if recognizer.calls != 0 {
		t.Fatal("recognizer must not run from active")
	}
}

func TestController_RetakeReusesHeldStream(t *testing.T) {
	t.Parallel()

	source := &fakeSource{frame: []byte("frame-1")}
	acquirer := &fakeAcquirer{source: source}
	c := NewController(acquirer, &fakeRecognizer{result: &Result{}}, nil)
	ctx := context.Background()

	if err := c.StartCamera(ctx); err != nil {
		t.Fatalf("StartCamera error: %v", err)
	}
	if err := c.CaptureImage(ctx); err != nil {
		t.Fatalf("CaptureImage error: %v", err)
	}

	if err := c.Retake(ctx); err != nil {
		t.Fatalf("Retake error: %v", err)
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("state after retake = %s", got)
	}
	if c.Image() != "" {
		t.Fatal("retake must discard the previewed image")
	}
	if acquirer.acquires != 1 {
		t.Fatalf("acquires = %d, want 1 (stream reused)", acquirer.acquires)
	}

	// And capture works again on the reused stream.
	if err := c.CaptureImage(ctx); err != nil {
		t.Fatalf("second CaptureImage error: %v", err)
	}
	if source.frames != 2 {
		t.Fatalf("frames = %d, want 2", source.frames)
	}
}

func TestController_StartFailureClassified(t *testing.T) {
	t.Parallel()

	acquirer := &fakeAcquirer{err: device.New(device.KindCamera, device.CodePermissionDenied, errors.New("denied"))}
	c := NewController(acquirer, &fakeRecognizer{}, nil)

	err := c.StartCamera(context.Background())
	var devErr *device.Error
	if !errors.As(err, &devErr) || devErr.Code != device.CodePermissionDenied {
		t.Fatalf("StartCamera error = %v, want permission_denied", err)
	}
	if got := c.State(); got != StateErrored {
		t.Fatalf("state = %s, want error", got)
	}
	if c.Err() == nil {
		t.Fatal("Err must hold the classified failure")
	}

	// Retry from error re-invokes acquisition.
	acquirer.err = nil
	acquirer.source = &fakeSource{frame: []byte("f")}
	if err := c.StartCamera(context.Background()); err != nil {
		t.Fatalf("retry StartCamera error: %v", err)
	}
	if got := c.State(); got != StateActive {
		t.Fatalf("state after retry = %s", got)
	}
	if c.Err() != nil {
		t.Fatal("Err must clear on successful retry")
	}
}

func TestController_RecognitionFailureMapsToRecognitionFailed(t *testing.T) {
	t.Parallel()

	source := &fakeSource{frame: []byte("f")}
	c := NewController(&fakeAcquirer{source: source}, &fakeRecognizer{err: errors.New("backend said no")}, nil)
	ctx := context.Background()

	if err := c.StartCamera(ctx); err != nil {
		t.Fatalf("StartCamera error: %v", err)
	}
	if err := c.CaptureImage(ctx); err != nil {
		t.Fatalf("CaptureImage error: %v", err)
	}

	err := c.RecognizeImage(ctx)
	var devErr *device.Error
	if !errors.As(err, &devErr) {
		t.Fatalf("RecognizeImage error = %T", err)
	}
	if devErr.Kind != device.KindCamera || devErr.Code != device.CodeRecognitionFailed {
		t.Fatalf("classified = %s/%s", devErr.Kind, devErr.Code)
	}
	if !strings.Contains(devErr.Message, "もう一度写真を撮ってみてね") {
		t.Fatalf("message = %q", devErr.Message)
	}
	if got := c.State(); got != StateErrored {
		t.Fatalf("state = %s, want error", got)
	}
}

func TestSplitDataURI(t *testing.T) {
	t.Parallel()

	payload, mimeType := splitDataURI("data:image/png;base64,AAAA")
	if payload != "AAAA" || mimeType != "image/png" {
		t.Fatalf("split = (%q, %q)", payload, mimeType)
	}

	payload, mimeType = splitDataURI("not a data uri")
	if payload != "" || mimeType != "" {
		t.Fatalf("split = (%q, %q), want empty", payload, mimeType)
	}
}
