package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arakitakashi/homework-coach-robo-sub000/internal/dotenv"
	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/camera"
	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
	coach "github.com/arakitakashi/homework-coach-robo-sub000/sdk"
)

const (
	defaultBaseURL = "http://127.0.0.1:8000"
	defaultGrade   = 3
	defaultTimeout = 60 * time.Second
)

type liveConfig struct {
	BaseURL       string
	UserID        string
	Problem       string
	ChildGrade    int
	CharacterType string
	Timeout       time.Duration

	Voice      bool
	MicFormat  string
	MicDevice  string
	CameraFmt  string
	CameraDev  string
	WithCamera bool

	Verbose bool
}

func parseLiveConfig(args []string, getenv func(string) string) (liveConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := liveConfig{}
	fs := flag.NewFlagSet("coach-live", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", firstNonEmpty(strings.TrimSpace(getenv("COACH_BASE_URL")), defaultBaseURL), "coaching backend base URL (or COACH_BASE_URL)")
	fs.StringVar(&cfg.UserID, "user", strings.TrimSpace(getenv("COACH_USER_ID")), "stable user id (or COACH_USER_ID; generated when empty)")
	fs.StringVar(&cfg.Problem, "problem", "", "problem text to start the session with")
	fs.IntVar(&cfg.ChildGrade, "grade", defaultGrade, "child grade level")
	fs.StringVar(&cfg.CharacterType, "character", "", "optional coach character type")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-request timeout (e.g. 60s)")
	fs.BoolVar(&cfg.Voice, "voice", false, "use the duplex voice channel instead of text dialogue")
	fs.StringVar(&cfg.MicFormat, "mic-format", "", "ffmpeg microphone input format (pulse, alsa, avfoundation)")
	fs.StringVar(&cfg.MicDevice, "mic-device", "", "microphone device name")
	fs.BoolVar(&cfg.WithCamera, "camera", false, "capture and recognize a problem photo before starting")
	fs.StringVar(&cfg.CameraFmt, "camera-format", "", "ffmpeg camera input format (v4l2, avfoundation)")
	fs.StringVar(&cfg.CameraDev, "camera-device", "", "camera device path or index")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return liveConfig{}, err
	}
	if err := validateLiveConfig(cfg); err != nil {
		return liveConfig{}, err
	}
	return cfg, nil
}

func validateLiveConfig(cfg liveConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if parsed.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if cfg.Problem == "" && !cfg.WithCamera {
		return errors.New("problem must not be empty (or pass -camera to photograph one)")
	}
	if cfg.ChildGrade < 1 || cfg.ChildGrade > 9 {
		return errors.New("grade must be between 1 and 9")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// capturedProblem runs the camera flow once: start, grab one frame, recognize,
// and return the confirmed problem text plus the image data URI.
func capturedProblem(ctx context.Context, cfg liveConfig, client *coach.Client, logger *slog.Logger, out io.Writer) (problemText, imageURI string, err error) {
	controller := camera.NewController(
		camera.NewFFmpegAcquirer(camera.FFmpegConfig{
			InputFormat: cfg.CameraFmt,
			InputDevice: cfg.CameraDev,
		}),
		visionRecognizer{vision: client.Vision},
		logger,
	)
	defer controller.Reset()

	if err := controller.StartCamera(ctx); err != nil {
		return "", "", err
	}
	if err := controller.CaptureImage(ctx); err != nil {
		return "", "", err
	}
	if err := controller.RecognizeImage(ctx); err != nil {
		return "", "", err
	}

	result := controller.Result()
	if result == nil || len(result.Problems) == 0 {
		return "", "", device.New(device.KindCamera, device.CodeRecognitionFailed,
			errors.New("no problems recognized in the captured image"))
	}

	problem := result.Problems[0]
	fmt.Fprintf(out, "認識した問題: %s (confidence %.2f)\n", problem.Text, result.Confidence)
	return problem.Text, controller.Image(), nil
}

// visionRecognizer adapts the backend vision service to the camera package's
// recognizer port.
type visionRecognizer struct {
	vision *coach.VisionService
}

func (r visionRecognizer) Recognize(ctx context.Context, imageData, mimeType string) (*camera.Result, error) {
	recognized, err := r.vision.Recognize(ctx, imageData, mimeType)
	if err != nil {
		return nil, err
	}
	if !recognized.Success {
		return nil, errors.New("recognition was rejected by the backend")
	}
	result := &camera.Result{
		Confidence:        recognized.Confidence,
		NeedsConfirmation: recognized.NeedsConfirmation,
	}
	for _, p := range recognized.Problems {
		result.Problems = append(result.Problems, camera.Problem{
			Text:       p.Text,
			Type:       p.Type,
			Difficulty: p.Difficulty,
			Expression: p.Expression,
		})
	}
	return result, nil
}

// runTextDialogue reads lines from in and runs one SSE exchange per line
// until EOF or /exit.
func runTextDialogue(ctx context.Context, cfg liveConfig, orch *coach.Orchestrator, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintln(out, "メッセージを入力してね。/exit で終了します。")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := orch.SendMessage(turnCtx, line, coach.DialogueHandlers{
			OnText: func(text string) {
				fmt.Fprint(out, text)
			},
			OnDone: func(string) {
				fmt.Fprintln(out)
			},
			OnError: func(message string, code coach.ErrorCode) {
				fmt.Fprintf(errOut, "\ndialogue error [%s]: %s\n", code, message)
			},
		})
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "dialogue transport error: %v\n", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func run(ctx context.Context, cfg liveConfig, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(cfg.Verbose)

	opts := []coach.ClientOption{
		coach.WithBaseURL(cfg.BaseURL),
		coach.WithLogger(logger),
	}
	if cfg.UserID != "" {
		opts = append(opts, coach.WithUserID(cfg.UserID))
	}
	client := coach.NewClient(opts...)

	store := coach.NewMemoryStore()
	unsubscribe := store.Subscribe(coach.StateKeySessionStatus, func(v any) {
		logger.Debug("session status changed", "status", v)
	})
	defer unsubscribe()

	orch := coach.NewOrchestrator(client, store)

	problemText := cfg.Problem
	imageURI := ""
	if cfg.WithCamera {
		captured, uri, err := capturedProblem(ctx, cfg, client, logger, out)
		if err != nil {
			var devErr *device.Error
			if errors.As(err, &devErr) {
				fmt.Fprintln(errOut, devErr.Message)
			}
			return err
		}
		problemText = captured
		imageURI = uri
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	session, err := orch.StartSession(startCtx, &coach.CreateSessionRequest{
		Problem:       problemText,
		ChildGrade:    cfg.ChildGrade,
		CharacterType: cfg.CharacterType,
	})
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "セッション開始: %s\n", session.SessionID)

	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.EndSession(endCtx); err != nil {
			logger.Warn("end session", "error", err)
		}
	}()

	if cfg.Voice {
		return runVoice(ctx, cfg, orch, imageURI, problemText, in, out, errOut)
	}
	return runTextDialogue(ctx, cfg, orch, in, out, errOut)
}

func main() {
	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "coach-live: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseLiveConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coach-live: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "coach-live: %v\n", err)
		os.Exit(1)
	}
}
