package coach

import (
	"fmt"
	"net/url"
)

// ErrorCode categorizes errors surfaced by the SDK and by the backend itself.
type ErrorCode string

const (
	// Transport-level codes.
	CodeHTTPError    ErrorCode = "HTTP_ERROR"
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	CodeStreamError  ErrorCode = "STREAM_ERROR"

	// Device codes (microphone / camera acquisition).
	CodePermissionDenied  ErrorCode = "permission_denied"
	CodeNotAvailable      ErrorCode = "not_available"
	CodeCaptureFailed     ErrorCode = "capture_failed"
	CodeRecognitionFailed ErrorCode = "recognition_failed"
	CodeUnknown           ErrorCode = "unknown"
)

// Error is the canonical error carried across the SDK boundary.
// Backend-emitted {error, code} pairs map onto it directly.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (code: %s)", e.Message, e.Code)
	}
	return e.Message
}

// NewError creates a typed SDK error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// TransportError represents HTTP/WebSocket transport-level failures (DNS,
// timeouts, connection reset, TLS handshake, dial rejection) while talking to
// the coach backend.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
