package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DialogueRequest is the body of POST /api/v1/dialogue/run.
// SessionID must reference a live session and Message must be non-empty;
// the transport does not validate either.
type DialogueRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// DialogueHandlers receives the typed events of one dialogue exchange.
// Unset handlers are skipped. OnText may fire multiple times; concatenation
// is the caller's responsibility. OnDone terminates the exchange.
type DialogueHandlers struct {
	OnText  func(text string)
	OnDone  func(sessionID string)
	OnError func(message string, code ErrorCode)
}

// DialogueService streams coach replies over SSE.
//
// Every failure path of a single Run is terminal for that call; there is no
// automatic retry. Errors are surfaced through OnError rather than the return
// value so call sites do not need try/catch-style handling around a long-lived
// stream; Run returns a non-nil error only for configuration misuse.
type DialogueService struct {
	client *Client
}

// Run issues one dialogue exchange and dispatches its events until the stream
// ends. Cancelling ctx aborts the exchange: Run returns nil and none of the
// handlers fire after cancellation.
func (s *DialogueService) Run(ctx context.Context, req *DialogueRequest, h DialogueHandlers) error {
	if req == nil {
		return fmt.Errorf("coach: dialogue request must not be nil")
	}

	resp, _, err := s.client.postJSON(ctx, "/api/v1/dialogue/run", req, "text/event-stream")
	if err != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		dispatchError(ctx, h, err.Error(), CodeNetworkError)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		dispatchError(ctx, h, fmt.Sprintf("HTTP error: %d", resp.StatusCode), CodeHTTPError)
		return nil
	}
	if resp.Body == nil {
		dispatchError(ctx, h, "empty response body", CodeStreamError)
		return nil
	}

	parser := newSSEParser(resp.Body)
	for {
		frame, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			dispatchError(ctx, h, err.Error(), CodeNetworkError)
			return nil
		}

		// Frames missing either field are dropped.
		if frame.Event == "" || len(frame.Data) == 0 {
			continue
		}

		switch frame.Event {
		case "text":
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				s.client.logger.Debug("dropping malformed dialogue frame", "event", frame.Event, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if h.OnText != nil {
				h.OnText(payload.Text)
			}
		case "done":
			var payload struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				s.client.logger.Debug("dropping malformed dialogue frame", "event", frame.Event, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if h.OnDone != nil {
				h.OnDone(payload.SessionID)
			}
			return nil
		case "error":
			var payload struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				s.client.logger.Debug("dropping malformed dialogue frame", "event", frame.Event, "error", err)
				continue
			}
			dispatchError(ctx, h, payload.Error, ErrorCode(payload.Code))
			return nil
		default:
			s.client.logger.Debug("ignoring unknown dialogue event", "event", frame.Event)
		}
	}
}

func dispatchError(ctx context.Context, h DialogueHandlers, message string, code ErrorCode) {
	if ctx.Err() != nil {
		return
	}
	if h.OnError != nil {
		h.OnError(message, code)
	}
}

// DialogueEvent is one typed event of a dialogue exchange, in wire order.
type DialogueEvent interface {
	dialogueEventType() string
}

// DialogueTextEvent carries one streamed text fragment.
type DialogueTextEvent struct {
	Text string
}

func (DialogueTextEvent) dialogueEventType() string { return "text" }

// DialogueDoneEvent is the final event of a successful exchange.
type DialogueDoneEvent struct {
	SessionID string
}

func (DialogueDoneEvent) dialogueEventType() string { return "done" }

// DialogueErrorEvent carries a backend-emitted error.
type DialogueErrorEvent struct {
	Message string
	Code    ErrorCode
}

func (DialogueErrorEvent) dialogueEventType() string { return "error" }

// DialogueStream is the channel form of a dialogue exchange. It preserves the
// same ordering and cancellation contract as Run: events arrive in wire order,
// a done event is last, and Close severs the in-flight request.
type DialogueStream struct {
	events chan DialogueEvent
	done   chan struct{}

	body io.ReadCloser

	err       error
	closeOnce sync.Once
}

// RunStream issues one dialogue exchange and returns its event stream.
// Unlike Run, connection-stage failures are returned directly.
func (s *DialogueService) RunStream(ctx context.Context, req *DialogueRequest) (*DialogueStream, error) {
	if req == nil {
		return nil, fmt.Errorf("coach: dialogue request must not be nil")
	}

	resp, endpoint, err := s.client.postJSON(ctx, "/api/v1/dialogue/run", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, NewError(CodeHTTPError, fmt.Sprintf("HTTP error: %d", resp.StatusCode))
	}
	if resp.Body == nil {
		return nil, NewError(CodeStreamError, fmt.Sprintf("empty response body from %s", endpoint))
	}

	stream := &DialogueStream{
		events: make(chan DialogueEvent, 64),
		done:   make(chan struct{}),
		body:   resp.Body,
	}
	go stream.read(ctx)
	return stream, nil
}

func (d *DialogueStream) read(ctx context.Context) {
	defer close(d.done)
	defer close(d.events)
	defer d.closeBody()

	parser := newSSEParser(d.body)
	for {
		frame, err := parser.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			d.err = err
			return
		}
		if frame.Event == "" || len(frame.Data) == 0 {
			continue
		}

		event, ok := decodeDialogueFrame(frame)
		if !ok {
			continue
		}

		select {
		case d.events <- event:
		case <-ctx.Done():
			return
		}

		switch event.(type) {
		case DialogueDoneEvent, DialogueErrorEvent:
			return
		}
	}
}

func decodeDialogueFrame(frame sseFrame) (DialogueEvent, bool) {
	switch frame.Event {
	case "text":
		var payload struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(frame.Data, &payload) != nil {
			return nil, false
		}
		return DialogueTextEvent{Text: payload.Text}, true
	case "done":
		var payload struct {
			SessionID string `json:"session_id"`
		}
		if json.Unmarshal(frame.Data, &payload) != nil {
			return nil, false
		}
		return DialogueDoneEvent{SessionID: payload.SessionID}, true
	case "error":
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(frame.Data, &payload) != nil {
			return nil, false
		}
		return DialogueErrorEvent{Message: payload.Error, Code: ErrorCode(payload.Code)}, true
	default:
		return nil, false
	}
}

// Events yields the exchange's events in wire order.
func (d *DialogueStream) Events() <-chan DialogueEvent {
	return d.events
}

// Err returns the terminal stream error, if any, after the stream ends.
func (d *DialogueStream) Err() error {
	<-d.done
	return d.err
}

// Close severs the in-flight request and releases resources.
func (d *DialogueStream) Close() error {
	d.closeBody()
	<-d.done
	return nil
}

func (d *DialogueStream) closeBody() {
	d.closeOnce.Do(func() {
		if d.body != nil {
			_ = d.body.Close()
		}
	})
}
