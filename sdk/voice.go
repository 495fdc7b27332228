package coach

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultVoiceConnectTimeout = 15 * time.Second

// ConnectionState is the voice transport's connection state machine:
// disconnected -> connecting -> {connected | error}; connected -> disconnected
// on close. Error is terminal per attempt; a new Connect restarts at
// connecting.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// VoiceHandlers receives the typed events of a voice session. Every handler is
// optional; unset handlers are skipped, never errors.
type VoiceHandlers struct {
	OnAudioData             func(pcm []byte)
	OnTurnComplete          func()
	OnInterrupted           func()
	OnInputTranscription    func(t Transcription)
	OnOutputTranscription   func(t Transcription)
	OnToolExecution         func(e ToolExecution)
	OnAgentTransition       func(e AgentTransition)
	OnEmotionUpdate         func(e EmotionUpdate)
	OnImageProblemConfirmed func(e ImageProblemConfirmed)
	OnImageRecognitionError func(e ImageRecognitionError)
	OnStateChange           func(state ConnectionState)
	OnError                 func(err error)
}

// VoiceService opens duplex voice sessions against /ws/{userID}/{sessionID}.
type VoiceService struct {
	client *Client
}

// Connect dials the voice endpoint for the given session and starts the read
// loop. The state machine is reported through h.OnStateChange: connecting is
// reported before the dial, then connected or error.
func (s *VoiceService) Connect(ctx context.Context, sessionID string, h VoiceHandlers) (*VoiceSession, error) {
	wsURL, err := s.client.websocketEndpoint(s.client.userID, sessionID)
	if err != nil {
		return nil, err
	}

	session := &VoiceSession{
		handlers: h,
		logger:   s.client.logger,
		state:    StateDisconnected,
		done:     make(chan struct{}),
	}
	session.setState(StateConnecting)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultVoiceConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		session.setState(StateError)
		transportErr := &TransportError{Op: "GET", URL: wsURL, Err: err}
		if resp != nil {
			transportErr.Err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		if h.OnError != nil {
			h.OnError(transportErr)
		}
		close(session.done)
		return nil, transportErr
	}

	session.conn = conn
	session.connected.Store(true)
	session.setState(StateConnected)
	go session.readLoop()
	return session, nil
}

// VoiceSession is one live duplex voice connection.
type VoiceSession struct {
	conn     *websocket.Conn
	handlers VoiceHandlers
	logger   *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	connected atomic.Bool
	closing   atomic.Bool

	stateMu sync.Mutex
	state   ConnectionState

	done chan struct{}
}

// IsConnected reports whether the socket is open for sending.
func (s *VoiceSession) IsConnected() bool {
	if s == nil {
		return false
	}
	return s.connected.Load()
}

// State returns the current connection state.
func (s *VoiceSession) State() ConnectionState {
	if s == nil {
		return StateDisconnected
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *VoiceSession) setState(state ConnectionState) {
	s.stateMu.Lock()
	if s.state == state {
		s.stateMu.Unlock()
		return
	}
	s.state = state
	s.stateMu.Unlock()
	if s.handlers.OnStateChange != nil {
		s.handlers.OnStateChange(state)
	}
}

// SendAudio sends one binary frame of raw PCM bytes.
// A no-op when the socket is not open; callers are expected to check
// IsConnected but the transport defends anyway.
func (s *VoiceSession) SendAudio(pcm []byte) error {
	if s == nil || !s.connected.Load() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// SendText sends a {type:"text"} envelope. A no-op when not connected.
func (s *VoiceSession) SendText(text string) error {
	return s.sendJSON(textEnvelope{Type: "text", Text: text})
}

// SendImageStart sends a {type:"start_with_image"} envelope. Optional fields
// are omitted entirely when absent. A no-op when not connected.
func (s *VoiceSession) SendImageStart(problemText, imageURL, problemType string, metadata map[string]any) error {
	return s.sendJSON(startWithImageEnvelope{
		Type: "start_with_image",
		Payload: startWithImagePayload{
			ProblemText: problemText,
			ImageURL:    imageURL,
			ProblemType: problemType,
			Metadata:    metadata,
		},
	})
}

func (s *VoiceSession) sendJSON(v any) error {
	if s == nil || !s.connected.Load() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close disconnects the session. Safe to call more than once and on an
// already-closed socket.
func (s *VoiceSession) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.connected.Store(false)
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			s.writeMu.Unlock()
			_ = s.conn.Close()
		}
	})
	<-s.done
	s.setState(StateDisconnected)
	return nil
}

func (s *VoiceSession) readLoop() {
	defer close(s.done)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.connected.Store(false)
			if s.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setState(StateDisconnected)
				return
			}
			s.setState(StateError)
			if s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			// Binary frames are raw audio; no decoding.
			if s.handlers.OnAudioData != nil {
				s.handlers.OnAudioData(append([]byte(nil), data...))
			}
		case websocket.TextMessage:
			s.dispatch(data)
		}
	}
}

// dispatch checks every ADK facet in fixed order; each present facet invokes
// its callback. A frame may legitimately carry zero recognized facets.
func (s *VoiceSession) dispatch(data []byte) {
	var frame adkFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		if s.handlers.OnError != nil {
			s.handlers.OnError(errors.New("invalid JSON message from voice server"))
		}
		return
	}

	if frame.TurnComplete != nil && *frame.TurnComplete {
		if s.handlers.OnTurnComplete != nil {
			s.handlers.OnTurnComplete()
		}
	}
	if frame.Interrupted != nil && *frame.Interrupted {
		if s.handlers.OnInterrupted != nil {
			s.handlers.OnInterrupted()
		}
	}
	if frame.InputTranscription != nil {
		if s.handlers.OnInputTranscription != nil {
			s.handlers.OnInputTranscription(*frame.InputTranscription)
		}
	}
	if frame.OutputTranscription != nil {
		if s.handlers.OnOutputTranscription != nil {
			s.handlers.OnOutputTranscription(*frame.OutputTranscription)
		}
	}
	if frame.ToolExecution != nil {
		if s.handlers.OnToolExecution != nil {
			s.handlers.OnToolExecution(*frame.ToolExecution)
		}
	}
	if frame.AgentTransition != nil {
		if s.handlers.OnAgentTransition != nil {
			s.handlers.OnAgentTransition(*frame.AgentTransition)
		}
	}
	if frame.EmotionUpdate != nil {
		if s.handlers.OnEmotionUpdate != nil {
			s.handlers.OnEmotionUpdate(*frame.EmotionUpdate)
		}
	}
	if frame.Content != nil {
		s.dispatchContentAudio(frame.Content)
	}

	switch frame.Type {
	case "image_problem_confirmed":
		if s.handlers.OnImageProblemConfirmed != nil {
			s.handlers.OnImageProblemConfirmed(ImageProblemConfirmed{ProblemText: frame.ProblemText})
		}
	case "image_recognition_error":
		if s.handlers.OnImageRecognitionError != nil {
			s.handlers.OnImageRecognitionError(ImageRecognitionError{Error: frame.Error, Code: frame.Code})
		}
	}
}

func (s *VoiceSession) dispatchContentAudio(content *Content) {
	for _, part := range content.Parts {
		if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/") {
			continue
		}
		pcm, err := decodeAudioPayload(part.InlineData.Data)
		if err != nil {
			s.logger.Debug("dropping undecodable inline audio", "error", err)
			continue
		}
		if s.handlers.OnAudioData != nil {
			s.handlers.OnAudioData(pcm)
		}
	}
}

// decodeAudioPayload decodes inline base64 audio. Some emitters use the
// URL-safe alphabet without padding, so normalize before standard decoding.
func decodeAudioPayload(data string) ([]byte, error) {
	normalized := strings.ReplaceAll(data, "-", "+")
	normalized = strings.ReplaceAll(normalized, "_", "/")
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(normalized)
}
