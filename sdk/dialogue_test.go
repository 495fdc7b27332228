package coach

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newSSEServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/dialogue/run" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req DialogueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
}

func TestDialogueRun_TextThenDone(t *testing.T) {
	t.Parallel()

	server := newSSEServer(t, []string{
		"event: text\ndata: {\"text\": \"まずは\"}\n\n",
		"event: text\ndata: {\"text\": \"式を見てみよう\"}\n\n",
		"event: done\ndata: {\"session_id\": \"session-1\"}\n\n",
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithUserID("child-1"))

	var texts []string
	var doneSession string
	err := client.Dialogue.Run(context.Background(), &DialogueRequest{
		UserID:    "child-1",
		SessionID: "session-1",
		Message:   "わからない",
	}, DialogueHandlers{
		OnText: func(text string) { texts = append(texts, text) },
		OnDone: func(sessionID string) { doneSession = sessionID },
		OnError: func(message string, code ErrorCode) {
			t.Errorf("unexpected error callback: %s (%s)", message, code)
		},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := strings.Join(texts, ""); got != "まずは式を見てみよう" {
		t.Fatalf("texts = %q", got)
	}
	if doneSession != "session-1" {
		t.Fatalf("done session = %q, want session-1", doneSession)
	}
}

func TestDialogueRun_HTTPErrorSurfacesThroughCallback(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	var gotMessage string
	var gotCode ErrorCode
	err := client.Dialogue.Run(context.Background(), &DialogueRequest{Message: "hi"}, DialogueHandlers{
		OnText:  func(string) { t.Error("OnText must not fire") },
		OnDone:  func(string) { t.Error("OnDone must not fire") },
		OnError: func(message string, code ErrorCode) { gotMessage, gotCode = message, code },
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if gotMessage != "HTTP error: 500" || gotCode != CodeHTTPError {
		t.Fatalf("error callback = (%q, %q)", gotMessage, gotCode)
	}
}

func TestDialogueRun_BackendErrorEvent(t *testing.T) {
	t.Parallel()

	server := newSSEServer(t, []string{
		"event: error\ndata: {\"error\": \"セッションが見つかりません\", \"code\": \"SESSION_NOT_FOUND\"}\n\n",
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	var gotMessage string
	var gotCode ErrorCode
	err := client.Dialogue.Run(context.Background(), &DialogueRequest{Message: "hi"}, DialogueHandlers{
		OnError: func(message string, code ErrorCode) { gotMessage, gotCode = message, code },
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if gotMessage != "セッションが見つかりません" || gotCode != ErrorCode("SESSION_NOT_FOUND") {
		t.Fatalf("error callback = (%q, %q)", gotMessage, gotCode)
	}
}

func TestDialogueRun_CancelledContextFiresNoCallbacks(t *testing.T) {
	t.Parallel()

	server := newSSEServer(t, []string{"event: text\ndata: {\"text\": \"x\"}\n\n"})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Dialogue.Run(ctx, &DialogueRequest{Message: "hi"}, DialogueHandlers{
		OnText:  func(string) { t.Error("OnText after cancel") },
		OnDone:  func(string) { t.Error("OnDone after cancel") },
		OnError: func(string, ErrorCode) { t.Error("OnError after cancel") },
	})
	if err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
}

func TestDialogueRun_MalformedAndIncompleteFramesDropped(t *testing.T) {
	t.Parallel()

	server := newSSEServer(t, []string{
		"event: text\ndata: not-json\n\n",
		"data: {\"text\": \"orphan data\"}\n\n",
		"event: heartbeat\ndata: {}\n\n",
		"event: text\ndata: {\"text\": \"valid\"}\n\n",
		"event: done\ndata: {\"session_id\": \"s\"}\n\n",
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	var texts []string
	err := client.Dialogue.Run(context.Background(), &DialogueRequest{Message: "hi"}, DialogueHandlers{
		OnText: func(text string) { texts = append(texts, text) },
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(texts) != 1 || texts[0] != "valid" {
		t.Fatalf("texts = %v, want [valid]", texts)
	}
}

func TestDialogueRun_NilRequest(t *testing.T) {
	t.Parallel()

	client := NewClient(WithBaseURL("http://127.0.0.1:0"))
	if err := client.Dialogue.Run(context.Background(), nil, DialogueHandlers{}); err == nil {
		t.Fatal("Run(nil) must return an error")
	}
}

func TestDialogueRunStream_EventOrder(t *testing.T) {
	t.Parallel()

	server := newSSEServer(t, []string{
		"event: text\ndata: {\"text\": \"a\"}\n\n",
		"event: text\ndata: {\"text\": \"b\"}\n\n",
		"event: done\ndata: {\"session_id\": \"s-9\"}\n\n",
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	stream, err := client.Dialogue.RunStream(context.Background(), &DialogueRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("RunStream error: %v", err)
	}
	defer stream.Close()

	var events []DialogueEvent
	for event := range stream.Events() {
		events = append(events, event)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if got := events[0].(DialogueTextEvent).Text; got != "a" {
		t.Fatalf("events[0] = %q", got)
	}
	if got := events[2].(DialogueDoneEvent).SessionID; got != "s-9" {
		t.Fatalf("done session = %q", got)
	}
}

func TestDialogueRunStream_HTTPErrorIsTyped(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.Dialogue.RunStream(context.Background(), &DialogueRequest{Message: "hi"})
	var typed *Error
	if !errors.As(err, &typed) || typed.Code != CodeHTTPError {
		t.Fatalf("RunStream error = %v, want *Error with HTTP_ERROR", err)
	}
}
