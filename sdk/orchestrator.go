package coach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Orchestrator ties a created session's identity to transport instances. It
// is the only component aware of both the SSE dialogue transport and the
// voice WebSocket transport at once.
//
// Invariants: at most one active session per orchestrator; a fresh dialogue
// exchange per message (transports are not reused across messages); at most
// one voice session per coach session.
type Orchestrator struct {
	client *Client
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	session *Session
	voice   *VoiceSession
}

// NewOrchestrator creates an orchestrator writing shared state into store.
func NewOrchestrator(client *Client, store Store) *Orchestrator {
	return &Orchestrator{
		client: client,
		store:  store,
		logger: client.logger,
	}
}

// Session returns the active session, or nil.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// StartSession creates a session on the backend and makes it active.
// Creation failures are surfaced typed with no automatic retry; calling
// StartSession again after a failure re-invokes the same creation call.
func (o *Orchestrator) StartSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	o.mu.Lock()
	if o.session != nil {
		active := o.session.SessionID
		o.mu.Unlock()
		return nil, fmt.Errorf("coach: session %s is still active; end it first", active)
	}
	o.mu.Unlock()

	session, err := o.client.Sessions.Create(ctx, req)
	if err != nil {
		o.store.Set(StateKeyLastError, err.Error())
		return nil, err
	}

	o.mu.Lock()
	o.session = session
	o.mu.Unlock()

	o.store.Set(StateKeySession, session)
	o.store.Set(StateKeySessionStatus, "active")
	o.logger.Info("coaching session started", "session_id", session.SessionID)
	return session, nil
}

// SendMessage runs one SSE dialogue exchange against the active session.
// A new transport run backs every message.
func (o *Orchestrator) SendMessage(ctx context.Context, message string, h DialogueHandlers) error {
	session, err := o.activeSession()
	if err != nil {
		return err
	}
	return o.client.Dialogue.Run(ctx, &DialogueRequest{
		UserID:    o.client.userID,
		SessionID: session.SessionID,
		Message:   message,
	}, h)
}

// ConnectVoice opens the session's voice channel. The connection state is
// mirrored into the store alongside the caller's own handler.
func (o *Orchestrator) ConnectVoice(ctx context.Context, h VoiceHandlers) (*VoiceSession, error) {
	session, err := o.activeSession()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.voice != nil && o.voice.IsConnected() {
		o.mu.Unlock()
		return nil, fmt.Errorf("coach: voice session already connected for session %s", session.SessionID)
	}
	o.mu.Unlock()

	callerStateChange := h.OnStateChange
	h.OnStateChange = func(state ConnectionState) {
		o.store.Set(StateKeyConnectionState, state)
		if callerStateChange != nil {
			callerStateChange(state)
		}
	}

	voice, err := o.client.Voice.Connect(ctx, session.SessionID, h)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.voice = voice
	o.mu.Unlock()
	return voice, nil
}

// Refresh re-fetches the active session (hint level, turn count).
func (o *Orchestrator) Refresh(ctx context.Context) (*Session, error) {
	session, err := o.activeSession()
	if err != nil {
		return nil, err
	}
	updated, err := o.client.Sessions.Get(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.session = updated
	o.mu.Unlock()
	o.store.Set(StateKeySession, updated)
	return updated, nil
}

// EndSession disconnects the voice channel and deletes the session. Deletion
// is best effort: a failed delete is logged and local state is cleared
// regardless, so ending never blocks on cleanup.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	o.mu.Lock()
	session := o.session
	voice := o.voice
	o.session = nil
	o.voice = nil
	o.mu.Unlock()

	if session == nil {
		return nil
	}
	if voice != nil {
		_ = voice.Close()
	}
	if err := o.client.Sessions.Delete(ctx, session.SessionID); err != nil {
		o.logger.Warn("session delete failed; clearing local state anyway", "session_id", session.SessionID, "error", err)
	}

	o.store.Set(StateKeySession, nil)
	o.store.Set(StateKeySessionStatus, "ended")
	return nil
}

func (o *Orchestrator) activeSession() (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, fmt.Errorf("coach: no active session")
	}
	return o.session, nil
}
