package coach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// coachBackend is a minimal in-memory backend for orchestrator tests.
type coachBackend struct {
	deleteStatus int
	deletes      int
}

func (b *coachBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/dialogue/sessions":
			var req CreateSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode create: %v", err)
			}
			_ = json.NewEncoder(w).Encode(Session{SessionID: "session-1", Problem: req.Problem})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/dialogue/sessions/"):
			_ = json.NewEncoder(w).Encode(Session{SessionID: "session-1", CurrentHintLevel: 3, TurnsCount: 8})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/dialogue/sessions/"):
			b.deletes++
			status := b.deleteStatus
			if status == 0 {
				status = http.StatusNoContent
			}
			w.WriteHeader(status)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/dialogue/run":
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte("event: text\ndata: {\"text\": \"がんばれ\"}\n\nevent: done\ndata: {\"session_id\": \"session-1\"}\n\n"))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func TestOrchestrator_SessionLifecycle(t *testing.T) {
	t.Parallel()

	backend := &coachBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	store := NewMemoryStore()
	var statuses []string
	store.Subscribe(StateKeySessionStatus, func(v any) {
		statuses = append(statuses, v.(string))
	})

	client := NewClient(WithBaseURL(server.URL), WithUserID("child-1"))
	orch := NewOrchestrator(client, store)

	session, err := orch.StartSession(context.Background(), &CreateSessionRequest{Problem: "9 - 4 = ?", ChildGrade: 1})
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	if session.SessionID != "session-1" {
		t.Fatalf("session = %+v", session)
	}
	if orch.Session() == nil {
		t.Fatal("active session not tracked")
	}

	// A second start while one is active is rejected.
	if _, err := orch.StartSession(context.Background(), &CreateSessionRequest{Problem: "x", ChildGrade: 1}); err == nil {
		t.Fatal("second StartSession must fail while a session is active")
	}

	var reply strings.Builder
	err = orch.SendMessage(context.Background(), "むずかしい", DialogueHandlers{
		OnText: func(text string) { reply.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if reply.String() != "がんばれ" {
		t.Fatalf("reply = %q", reply.String())
	}

	updated, err := orch.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if updated.CurrentHintLevel != 3 || updated.TurnsCount != 8 {
		t.Fatalf("refreshed session = %+v", updated)
	}

	if err := orch.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}
	if orch.Session() != nil {
		t.Fatal("session not cleared after end")
	}
	if backend.deletes != 1 {
		t.Fatalf("deletes = %d, want 1", backend.deletes)
	}

	if len(statuses) != 2 || statuses[0] != "active" || statuses[1] != "ended" {
		t.Fatalf("statuses = %v, want [active ended]", statuses)
	}

	// Ending again is a no-op.
	if err := orch.EndSession(context.Background()); err != nil {
		t.Fatalf("second EndSession error: %v", err)
	}
	if backend.deletes != 1 {
		t.Fatalf("deletes after no-op end = %d, want 1", backend.deletes)
	}
}

func TestOrchestrator_EndSessionSwallowsDeleteFailure(t *testing.T) {
	t.Parallel()

	backend := &coachBackend{deleteStatus: http.StatusInternalServerError}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	store := NewMemoryStore()
	client := NewClient(WithBaseURL(server.URL))
	orch := NewOrchestrator(client, store)

	if _, err := orch.StartSession(context.Background(), &CreateSessionRequest{Problem: "x", ChildGrade: 1}); err != nil {
		t.Fatalf("StartSession error: %v", err)
	}

	if err := orch.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession must swallow delete failure, got %v", err)
	}
	if orch.Session() != nil {
		t.Fatal("local state must clear even when delete fails")
	}
	if status, _ := store.Get(StateKeySessionStatus); status != "ended" {
		t.Fatalf("status = %v, want ended", status)
	}

	// A new session can start immediately after a failed cleanup.
	if _, err := orch.StartSession(context.Background(), &CreateSessionRequest{Problem: "y", ChildGrade: 1}); err != nil {
		t.Fatalf("StartSession after failed delete error: %v", err)
	}
}

func TestOrchestrator_SendMessageWithoutSession(t *testing.T) {
	t.Parallel()

	client := NewClient(WithBaseURL("http://127.0.0.1:0"))
	orch := NewOrchestrator(client, NewMemoryStore())
	if err := orch.SendMessage(context.Background(), "hi", DialogueHandlers{}); err == nil {
		t.Fatal("SendMessage without a session must fail")
	}
	if _, err := orch.ConnectVoice(context.Background(), VoiceHandlers{}); err == nil {
		t.Fatal("ConnectVoice without a session must fail")
	}
}
