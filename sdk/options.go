package coach

import (
	"log/slog"
	"net/http"
	"time"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the backend base URL (for example "http://localhost:8000").
// The same base serves the REST endpoints and, scheme-mapped, the voice
// WebSocket endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithUserID pins the client to a stable user identity.
// When unset, a random identity is generated per client.
func WithUserID(id string) ClientOption {
	return func(c *Client) {
		c.userID = id
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
// Do not set this when using Dialogue.Run; streamed responses outlive it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}
