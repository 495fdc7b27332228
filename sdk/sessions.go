package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Session is the backend's view of one coaching session.
type Session struct {
	SessionID        string `json:"session_id"`
	Problem          string `json:"problem"`
	CurrentHintLevel int    `json:"current_hint_level"`
	Tone             string `json:"tone"`
	TurnsCount       int    `json:"turns_count"`
	CreatedAt        string `json:"created_at"`
}

// CreateSessionRequest is the body of POST /api/v1/dialogue/sessions.
type CreateSessionRequest struct {
	Problem       string `json:"problem"`
	ChildGrade    int    `json:"child_grade"`
	CharacterType string `json:"character_type,omitempty"`
}

// SessionsService calls the session REST endpoints. Failures carry the fixed
// localized messages shown to the child; no method retries on its own.
type SessionsService struct {
	client *Client
}

// Create starts a new coaching session.
func (s *SessionsService) Create(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	if req == nil {
		return nil, fmt.Errorf("coach: create session request must not be nil")
	}
	resp, _, err := s.client.postJSON(ctx, "/api/v1/dialogue/sessions", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("セッション作成に失敗しました: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return decodeSession(resp)
}

// Get fetches the current state of a session.
func (s *SessionsService) Get(ctx context.Context, sessionID string) (*Session, error) {
	resp, _, err := s.client.do(ctx, http.MethodGet, "/api/v1/dialogue/sessions/"+url.PathEscape(sessionID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("セッション取得に失敗しました: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return decodeSession(resp)
}

// Delete ends a session on the backend. 2xx (including 204) is success.
func (s *SessionsService) Delete(ctx context.Context, sessionID string) error {
	resp, _, err := s.client.do(ctx, http.MethodDelete, "/api/v1/dialogue/sessions/"+url.PathEscape(sessionID))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("セッション削除に失敗しました: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

func decodeSession(resp *http.Response) (*Session, error) {
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("coach: decode session response: %w", err)
	}
	return &session, nil
}
