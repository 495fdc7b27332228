package coach

import "encoding/json"

// The voice channel carries ADK event envelopes: JSON frames in which at most
// one facet field is populated. Unknown facets are ignored, never errors.

// Transcription is a partial or finished transcription facet.
type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

// ToolExecution reports a backend tool invocation.
type ToolExecution struct {
	ToolName string          `json:"toolName"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// AgentTransition reports a handoff between backend agents.
type AgentTransition struct {
	FromAgent string `json:"fromAgent"`
	ToAgent   string `json:"toAgent"`
	Reason    string `json:"reason"`
}

// EmotionUpdate reports the coach's read of the child's state.
type EmotionUpdate struct {
	Emotion          string  `json:"emotion"`
	FrustrationLevel float64 `json:"frustrationLevel"`
	EngagementLevel  float64 `json:"engagementLevel"`
}

// InlineData is a base64 payload embedded in a content part. Some emitters use
// the URL-safe base64 alphabet without padding; decoding normalizes for that.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ContentPart is one part of a content facet.
type ContentPart struct {
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Content is the content facet of an ADK event.
type Content struct {
	Parts []ContentPart `json:"parts"`
}

// ImageProblemConfirmed is the envelope-typed message acknowledging a
// start_with_image submission.
type ImageProblemConfirmed struct {
	ProblemText string `json:"problem_text"`
}

// ImageRecognitionError is the envelope-typed message for a failed
// start_with_image submission.
type ImageRecognitionError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// adkFrame is the superset envelope every incoming text frame decodes into.
type adkFrame struct {
	Type string `json:"type,omitempty"`

	TurnComplete        *bool            `json:"turnComplete,omitempty"`
	Interrupted         *bool            `json:"interrupted,omitempty"`
	InputTranscription  *Transcription   `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription   `json:"outputTranscription,omitempty"`
	ToolExecution       *ToolExecution   `json:"toolExecution,omitempty"`
	AgentTransition     *AgentTransition `json:"agentTransition,omitempty"`
	EmotionUpdate       *EmotionUpdate   `json:"emotionUpdate,omitempty"`
	Content             *Content         `json:"content,omitempty"`

	// Envelope-typed sub-protocol fields.
	ProblemText string `json:"problem_text,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// Outbound envelopes. Optional payload fields are omitted entirely when
// absent, never sent as null.

type textEnvelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type startWithImagePayload struct {
	ProblemText string         `json:"problem_text"`
	ImageURL    string         `json:"image_url"`
	ProblemType string         `json:"problem_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type startWithImageEnvelope struct {
	Type    string                `json:"type"`
	Payload startWithImagePayload `json:"payload"`
}
