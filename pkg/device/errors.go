// Package device maps raw capture-device failures (microphone, camera) onto a
// fixed, closed error taxonomy with pre-localized child-facing messages. Raw
// platform errors never leak past this package.
package device

import (
	"fmt"
	"strings"
)

// Kind identifies which device a failure came from.
type Kind string

const (
	KindMicrophone Kind = "microphone"
	KindCamera     Kind = "camera"
)

// Code is the closed device-error taxonomy.
type Code string

const (
	CodePermissionDenied  Code = "permission_denied"
	CodeNotAvailable      Code = "not_available"
	CodeCaptureFailed     Code = "capture_failed"
	CodeRecognitionFailed Code = "recognition_failed"
	CodeUnknown           Code = "unknown"
)

// Error is a classified device failure. Message is the fixed user-facing
// string for the code; Cause keeps the underlying error for logs only.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// userMessages is the fixed message table. These strings are what the child
// sees; every one pairs with a recovery action in the UI.
var userMessages = map[Kind]map[Code]string{
	KindMicrophone: {
		CodePermissionDenied: "マイクが使えないみたい。マイクの使用を許可してね",
		CodeNotAvailable:     "マイクが見つからないよ。マイクがつながっているか確認してね",
		CodeCaptureFailed:    "マイクの起動に失敗しちゃった。もう一度試してみてね",
		CodeUnknown:          "何かうまくいかなかったみたい。もう一度試してみてね",
	},
	KindCamera: {
		CodePermissionDenied:  "カメラが使えないみたい。カメラの使用を許可してね",
		CodeNotAvailable:      "カメラが見つからないよ。カメラがついているか確認してね",
		CodeCaptureFailed:     "カメラの起動に失敗しちゃった。もう一度試してみてね",
		CodeRecognitionFailed: "問題がうまく読み取れなかったよ。もう一度写真を撮ってみてね",
		CodeUnknown:           "何かうまくいかなかったみたい。もう一度試してみてね",
	},
}

// Message returns the fixed user-facing message for a kind/code pair.
func Message(kind Kind, code Code) string {
	if msg, ok := userMessages[kind][code]; ok {
		return msg
	}
	return userMessages[kind][CodeUnknown]
}

// New builds a classified error with its fixed message.
func New(kind Kind, code Code, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: Message(kind, code), Cause: cause}
}

// Classification marker tables. Device layers (ffmpeg and friends) report
// failures as text, so classification matches on the combined error and
// stderr output, lowercased.
var (
	permissionMarkers = []string{
		"permission denied",
		"operation not permitted",
		"not authorized",
		"access denied",
	}
	notFoundMarkers = []string{
		"no such file or directory",
		"no such device",
		"device not found",
		"no such process",
		"cannot find",
		"input/output error",
	}
	deviceMarkers = []string{
		"ffmpeg",
		"device",
		"v4l2",
		"avfoundation",
		"alsa",
		"pulse",
		"dshow",
	}
)

// Classify maps an acquisition failure onto the taxonomy:
// permission-category -> permission_denied; not-found-category ->
// not_available; any other device-layer failure -> capture_failed; everything
// else -> unknown.
func Classify(kind Kind, cause error, detail string) *Error {
	text := strings.ToLower(detail)
	if cause != nil {
		text += " " + strings.ToLower(cause.Error())
	}

	code := CodeUnknown
	switch {
	case containsAny(text, permissionMarkers):
		code = CodePermissionDenied
	case containsAny(text, notFoundMarkers):
		code = CodeNotAvailable
	case containsAny(text, deviceMarkers):
		code = CodeCaptureFailed
	}
	return New(kind, code, cause)
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
