// Package stream implements the Streaming Transform (C6): consuming
// sessionlib.Event from a live Session and emitting Anthropic SSE events,
// while registering expected tool calls on the conversation's state in
// lock-step with the tool_use blocks that advertise them.
package stream

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/convo"
	"github.com/xcbridge/xcbridge/internal/logging"
	"github.com/xcbridge/xcbridge/internal/sessionlib"
)

// blockKind tracks which kind of content block is currently open, if any.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockToolUse
)

// Transform drives one turn's worth of SSE output for a conversation. It
// is not safe for concurrent use by itself — exactly one turn streams at a
// time per conversation, enforced by the Messages Handler (C7) holding
// convo.State's stream lock (LockStream/UnlockStream) for the life of the
// call to New or Resume that produced it.
type Transform struct {
	conv *convo.Conversation
	log  *slog.Logger

	nextIndex int
	openIndex int
	openKind  blockKind
}

// reply returns the conversation's currently-attached reply, looked up
// fresh on every write rather than cached at construction time. A
// continuation request (C7) can reattach a conversation's reply to a new
// HTTP response mid-turn — e.g. when a tool result arrives on a separate
// connection from the one that announced the tool_use — and subsequent
// frames for that same turn must follow the swap.
func (t *Transform) reply() *anthropic.SSEWriter {
	return t.conv.State.CurrentReply()
}

// New starts a Transform for conv, writing SSE headers and the
// message_start event, and marking the conversation's session active.
// Per the design note in spec.md §4.6, entry order is: headers,
// message_start, then sessionActive = true.
func New(conv *convo.Conversation, w *anthropic.SSEWriter, model string) (*Transform, error) {
	t := &Transform{conv: conv, log: logging.WithConversation(logging.Stream(), conv.ID)}
	conv.State.SetReply(w)

	if err := t.reply().WriteEvent("message_start", anthropic.MessageStart{
		Type: "message_start",
		Message: anthropic.MessageStartMsg{
			ID:      "msg_" + uuid.NewString(),
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []any{},
		},
	}); err != nil {
		return nil, err
	}

	conv.State.MarkSessionActive()
	return t, nil
}

// Resume builds a Transform for a turn already in progress: conv's reply
// and message_start have already been written by the caller (the
// Messages Handler's continuation path, per spec.md §4.7), so Resume only
// marks the session active and starts numbering content blocks from
// scratch for this new reply.
func Resume(conv *convo.Conversation) *Transform {
	conv.State.MarkSessionActive()
	return &Transform{conv: conv, log: logging.WithConversation(logging.Stream(), conv.ID)}
}

// Run consumes events until the channel closes, or an EventIdle/EventError
// event ends the turn, performing the matching terminal cleanup either way.
// It never returns a non-nil error for a session-level failure (that is
// reported as hadError + an SSE error frame, per spec.md §7) — only for a
// failure to write to the SSE stream itself.
func (t *Transform) Run(events <-chan sessionlib.Event) error {
	for ev := range events {
		switch ev.Kind {
		case sessionlib.EventTextDelta:
			if err := t.handleText(ev.Text); err != nil {
				return err
			}
		case sessionlib.EventToolUse:
			if err := t.handleToolUse(ev); err != nil {
				return err
			}
		case sessionlib.EventToolUseDelta:
			if err := t.handleToolUseDelta(ev); err != nil {
				return err
			}
		case sessionlib.EventIdle:
			return t.finish(ev.StopReason, ev.Usage)
		case sessionlib.EventError:
			return t.fail(ev.Err)
		}
	}
	// Channel closed without an explicit terminal event: treat as a clean
	// end of turn rather than leaving the conversation stuck active.
	return t.finish("end_turn", sessionlib.Usage{})
}

func (t *Transform) closeOpenBlock() error {
	if t.openKind == blockNone {
		return nil
	}
	err := t.reply().WriteEvent("content_block_stop", anthropic.ContentBlockStop{
		Type: "content_block_stop", Index: t.openIndex,
	})
	t.openKind = blockNone
	return err
}

func (t *Transform) handleText(text string) error {
	t.conv.State.AppendTranscript(text)
	if t.openKind != blockText {
		if err := t.closeOpenBlock(); err != nil {
			return err
		}
		t.openIndex = t.nextIndex
		t.nextIndex++
		t.openKind = blockText
		if err := t.reply().WriteEvent("content_block_start", anthropic.ContentBlockStart{
			Type: "content_block_start", Index: t.openIndex,
			ContentBlock: anthropic.ContentBlockStartBlock{Type: "text"},
		}); err != nil {
			return err
		}
	}
	return t.reply().WriteEvent("content_block_delta", anthropic.ContentBlockDelta{
		Type: "content_block_delta", Index: t.openIndex,
		Delta: anthropic.Delta{Type: "text_delta", Text: text},
	})
}

// handleToolUse closes any open block, registers the expected call on the
// conversation state, and only then emits content_block_start — the
// ordering guarantee from spec.md §4.6/§5: registerExpected must complete
// before the tool_use block is visible to Xcode, or a continuation lookup
// by tool-use id could race the next request.
func (t *Transform) handleToolUse(ev sessionlib.Event) error {
	if err := t.closeOpenBlock(); err != nil {
		return err
	}
	t.openIndex = t.nextIndex
	t.nextIndex++
	t.openKind = blockToolUse

	t.conv.State.RegisterExpected(ev.ToolUseID, ev.ToolUseName)
	t.log.Debug("registered expected tool call", "tool_use_id", ev.ToolUseID, "tool_name", ev.ToolUseName)

	if err := t.reply().WriteEvent("content_block_start", anthropic.ContentBlockStart{
		Type: "content_block_start", Index: t.openIndex,
		ContentBlock: anthropic.ContentBlockStartBlock{Type: "tool_use", ID: ev.ToolUseID, Name: ev.ToolUseName},
	}); err != nil {
		return err
	}
	if len(ev.ToolInput) == 0 {
		return nil
	}
	return t.reply().WriteEvent("content_block_delta", anthropic.ContentBlockDelta{
		Type: "content_block_delta", Index: t.openIndex,
		Delta: anthropic.Delta{Type: "input_json_delta", PartialJSON: string(ev.ToolInput)},
	})
}

func (t *Transform) handleToolUseDelta(ev sessionlib.Event) error {
	if t.openKind != blockToolUse {
		return nil
	}
	return t.reply().WriteEvent("content_block_delta", anthropic.ContentBlockDelta{
		Type: "content_block_delta", Index: t.openIndex,
		Delta: anthropic.Delta{Type: "input_json_delta", PartialJSON: string(ev.ToolInputDelta)},
	})
}

func (t *Transform) finish(stopReason string, usage sessionlib.Usage) error {
	err := t.closeOpenBlock()
	if err == nil {
		err = t.reply().WriteEvent("message_delta", anthropic.MessageDelta{
			Type:  "message_delta",
			Delta: anthropic.MessageDeltaBody{StopReason: stopReason},
			Usage: anthropic.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
		})
	}
	if err == nil {
		err = t.reply().WriteEvent("message_stop", anthropic.MessageStop{Type: "message_stop"})
	}
	t.terminalCleanup()
	return err
}

func (t *Transform) fail(cause error) error {
	t.conv.State.SetError()
	t.log.Error("session-level failure", "error", cause)
	message := "session error"
	if cause != nil {
		message = cause.Error()
	}
	err := t.reply().WriteEvent("error", anthropic.StreamError{
		Type:  "error",
		Error: anthropic.ErrorDetail{Type: "api_error", Message: message},
	})
	t.terminalCleanup()
	return err
}

// terminalCleanup is shared by finish and fail: inactivate the session
// (which drains stale expected/pending state per invariant 3), detach the
// reply, and wake anyone awaiting WaitForStreamingDone.
func (t *Transform) terminalCleanup() {
	t.conv.State.MarkSessionInactive()
	t.conv.State.ClearReply()
	t.conv.State.NotifyStreamingDone()
}
