// Package coach provides the Go client SDK for the homework-coach backend.
//
// The SDK is transport-focused: a streaming SSE dialogue client, a duplex
// WebSocket voice session, and thin REST services for sessions and image
// recognition. Higher-level lifecycle wiring lives in Orchestrator.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Client is the main entry point for the SDK.
type Client struct {
	Sessions *SessionsService
	Dialogue *DialogueService
	Vision   *VisionService
	Voice    *VoiceService

	// Internal
	baseURL    string
	userID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client for the given backend.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if strings.TrimSpace(c.userID) == "" {
		c.userID = uuid.NewString()
	}

	c.Sessions = &SessionsService{client: c}
	c.Dialogue = &DialogueService{client: c}
	c.Vision = &VisionService{client: c}
	c.Voice = &VoiceService{client: c}
	return c
}

// UserID returns the client's user identity.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) endpoint(path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if base == "" {
		return "", fmt.Errorf("coach: base URL is not configured (use WithBaseURL)")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// websocketEndpoint maps the base URL onto the voice WebSocket endpoint:
// trailing slash stripped, scheme http->ws / https->wss, /ws/{userID}/{sessionID}.
func (c *Client) websocketEndpoint(userID, sessionID string) (string, error) {
	endpoint, err := c.endpoint(fmt.Sprintf("/ws/%s/%s", url.PathEscape(userID), url.PathEscape(sessionID)))
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("coach: invalid base URL: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", fmt.Errorf("coach: base URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

// postJSON issues a JSON POST and returns the raw response plus the endpoint
// used. Network failures come back as *TransportError.
func (c *Client) postJSON(ctx context.Context, path string, payload any, accept string) (*http.Response, string, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, endpoint, fmt.Errorf("coach: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, endpoint, fmt.Errorf("coach: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, endpoint, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	return resp, endpoint, nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, string, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, endpoint, fmt.Errorf("coach: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, endpoint, &TransportError{Op: method, URL: endpoint, Err: err}
	}
	return resp, endpoint, nil
}
