package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter serializes Anthropic SSE events to an http.ResponseWriter,
// flushing after every frame so Xcode sees incremental output. Write calls
// must be serialized by the caller — SSEWriter does not lock.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter writes the SSE response headers and returns a writer for the
// event stream. Panics if the ResponseWriter doesn't support flushing,
// mirroring the teacher's assumption that chi/stdlib writers always do.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("anthropic: ResponseWriter does not support flushing")
	}
	w.WriteHeader(http.StatusOK)
	return &SSEWriter{w: w, flusher: flusher}
}

// WriteEvent writes one named SSE frame with a JSON-encoded payload.
func (s *SSEWriter) WriteEvent(event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("anthropic: marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// MessageStart is the message_start event payload.
type MessageStart struct {
	Type    string         `json:"type"`
	Message MessageStartMsg `json:"message"`
}

// MessageStartMsg is the nested message object of MessageStart.
type MessageStartMsg struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []any  `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage is token accounting, reported as zero unless the session library
// supplies real figures.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ContentBlockStart is the content_block_start event payload.
type ContentBlockStart struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock ContentBlockStartBlock `json:"content_block"`
}

// ContentBlockStartBlock is the nested content_block object.
type ContentBlockStartBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// ContentBlockDelta is the content_block_delta event payload.
type ContentBlockDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// Delta is the nested delta object of ContentBlockDelta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStop is the content_block_stop event payload.
type ContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDelta is the message_delta event payload.
type MessageDelta struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage Usage            `json:"usage"`
}

// MessageDeltaBody is the nested delta object of MessageDelta.
type MessageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

// MessageStop is the message_stop event payload.
type MessageStop struct {
	Type string `json:"type"`
}

// StreamError is the error frame emitted on a session-level failure.
type StreamError struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}
