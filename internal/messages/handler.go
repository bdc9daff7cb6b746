// Package messages implements the Messages Handler (C7): the single public
// entry point Xcode speaks Anthropic's Messages API to, routing each POST
// to either a brand-new session or the continuation of one already
// in-flight, plus the read-only GET /v1/models listing.
package messages

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/convo"
	"github.com/xcbridge/xcbridge/internal/logging"
	"github.com/xcbridge/xcbridge/internal/sessioncfg"
	"github.com/xcbridge/xcbridge/internal/sessionlib"
	"github.com/xcbridge/xcbridge/internal/stream"
)

// ConfigSource supplies the bridge's current configuration. A function
// rather than a *config.Config so that a hot-reloaded config (see
// internal/config.Watcher) is picked up by the very next new-session
// request without restarting the handler.
type ConfigSource func() *config.Config

// Handler serves POST /v1/messages and GET /v1/models.
type Handler struct {
	manager          *convo.Manager
	starter          sessionlib.Starter
	configSource     ConfigSource
	models           []anthropic.ModelInfo
	port             int
	workingDirectory string
	authToken        string
}

// New returns a Handler. models is the fixed catalog GET /v1/models serves
// and that new-session requests validate their "model" field against;
// port is the local port the bridge's own HTTP server listens on, used to
// build the synthetic xcode-bridge MCP server URL.
func New(manager *convo.Manager, starter sessionlib.Starter, configSource ConfigSource, models []anthropic.ModelInfo, port int, workingDirectory string) *Handler {
	return &Handler{
		manager:          manager,
		starter:          starter,
		configSource:     configSource,
		models:           models,
		port:             port,
		workingDirectory: workingDirectory,
	}
}

// SetAuthToken installs the backend credential (read from internal/secrets
// at startup) passed to every session the handler starts from then on.
func (h *Handler) SetAuthToken(token string) {
	h.authToken = token
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", h.handleMessages)
	mux.HandleFunc("GET /v1/models", h.handleModels)
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.models})
}

func (h *Handler) modelByID(id string) *anthropic.ModelInfo {
	for i := range h.models {
		if h.models[i].ID == id {
			return &h.models[i]
		}
	}
	return nil
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	log := logging.Messages()

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, anthropic.NewInvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, anthropic.NewInvalidRequestError("messages must not be empty"))
		return
	}

	if c := h.manager.FindByContinuation(req.Messages); c != nil {
		h.serveContinuation(w, r, c, req)
		return
	}
	h.serveNewSession(w, r, req, log)
}

// serveContinuation implements spec.md §4.7 step 3: attach the reply,
// write headers + message_start, install a disconnect handler, resolve
// every tool_result in the last message, then let a resumed Transform
// (see internal/stream.Resume) drive whatever events the session emits
// next, blocking until the turn ends.
func (h *Handler) serveContinuation(w http.ResponseWriter, r *http.Request, c *convo.Conversation, req anthropic.MessagesRequest) {
	log := logging.WithConversation(logging.Messages(), c.ID)

	// Claim the conversation's stream lock before touching the reply: if
	// the turn that produced this continuation's tool_use block is still
	// streaming (serveNewSession's tr.Run hasn't returned yet), this
	// blocks here until it has, instead of racing it for CurrentReply().
	c.State.LockStream()
	defer c.State.UnlockStream()

	sseWriter := anthropic.NewSSEWriter(w)
	c.State.SetReply(sseWriter)

	if err := sseWriter.WriteEvent("message_start", anthropic.MessageStart{
		Type: "message_start",
		Message: anthropic.MessageStartMsg{
			ID:      "msg_" + c.ID,
			Type:    "message",
			Role:    "assistant",
			Model:   req.Model,
			Content: []any{},
		},
	}); err != nil {
		log.Warn("failed writing continuation message_start", "error", err)
		return
	}

	ctx := r.Context()
	go func() {
		<-ctx.Done()
		if c.State.CurrentReply() == sseWriter {
			c.State.Cleanup()
			c.State.NotifyStreamingDone()
		}
	}()

	last := req.Messages[len(req.Messages)-1]
	for _, b := range last.ToolResultBlocks() {
		c.State.ResolveToolCall(b.ToolResultUseID, b.ToolResultText())
		if c.Session != nil {
			if err := c.Session.DeliverToolResult(ctx, b.ToolResultUseID, b.ToolResultText(), b.ToolResultError); err != nil {
				log.Warn("session rejected tool result", "tool_use_id", b.ToolResultUseID, "error", err)
			}
		}
	}

	if c.Session != nil {
		events, err := c.Session.Prompt(ctx, "")
		if err != nil {
			log.Error("failed resuming session after tool result", "error", err)
		} else {
			tr := stream.Resume(c)
			go func() {
				if err := tr.Run(events); err != nil {
					log.Warn("resumed transform ended with write error", "error", err)
				}
			}()
		}
	}

	_ = c.State.WaitForStreamingDone(ctx)
}

// serveNewSession implements spec.md §4.7 step 4.
func (h *Handler) serveNewSession(w http.ResponseWriter, r *http.Request, req anthropic.MessagesRequest, log *slog.Logger) {
	model := h.modelByID(req.Model)
	if model == nil {
		writeError(w, http.StatusBadRequest, anthropic.NewInvalidRequestError(fmt.Sprintf("model %q is not supported", req.Model)))
		return
	}

	c := h.manager.Create()
	if len(req.Tools) > 0 {
		c.State.Cache().Set(req.Tools)
	}

	serverConfig := h.configSource()
	sessionConfig := sessioncfg.Build(sessioncfg.Params{
		Model:                   req.Model,
		SystemMessage:           req.System,
		ServerConfig:            serverConfig,
		SupportsReasoningEffort: model.SupportsReasoningEffort,
		WorkingDirectory:        h.workingDirectory,
		HasToolBridge:           len(req.Tools) > 0,
		Port:                    h.port,
		ConversationID:          c.ID,
		AuthToken:               h.authToken,
	})

	ctx := r.Context()
	session, err := h.starter.Start(ctx, sessionConfig)
	if err != nil {
		h.manager.Remove(c.ID)
		writeError(w, http.StatusInternalServerError, anthropic.ErrorBody{
			Type:  "error",
			Error: anthropic.ErrorDetail{Type: "api_error", Message: "failed to start session: " + err.Error()},
		})
		return
	}
	c.Session = session

	// Held for the life of this turn, through the synchronous tr.Run below
	// — a continuation racing in on an early tool_use block must wait for
	// this turn to actually finish before resuming.
	c.State.LockStream()
	defer c.State.UnlockStream()

	sseWriter := anthropic.NewSSEWriter(w)
	tr, err := stream.New(c, sseWriter, req.Model)
	if err != nil {
		log.Warn("failed writing new-session message_start", "error", err)
		return
	}

	go func() {
		<-ctx.Done()
		if c.State.CurrentReply() == sseWriter {
			c.State.Cleanup()
			c.State.NotifyStreamingDone()
		}
	}()

	events, err := session.Prompt(ctx, formatNewMessages(req.Messages, 0))
	if err != nil {
		log.Error("failed starting session prompt", "error", err)
		c.State.Cleanup()
		return
	}
	c.SentMessageCount = len(req.Messages)

	if err := tr.Run(events); err != nil {
		log.Warn("new-session transform ended with write error", "error", err)
	}
}

// formatNewMessages renders messages[from:] as the plain-text prompt
// handed to Session.Prompt. Text blocks are carried as-is; tool_use and
// tool_result blocks are rendered as one bracketed line each, so a fresh
// session started on the new-session fallback still sees the prior tool
// round trip.
func formatNewMessages(msgs []anthropic.Message, from int) string {
	out := ""
	for _, m := range msgs[from:] {
		if m.Content.IsString {
			out += m.Content.Str + "\n"
			continue
		}
		for _, b := range m.Content.Blocks {
			switch b.Type {
			case anthropic.BlockText:
				out += b.Text + "\n"
			case anthropic.BlockToolUse:
				out += fmt.Sprintf("[tool_use %s %s] %s\n", b.ToolUseID, b.ToolUseName, b.ToolInput)
			case anthropic.BlockToolResult:
				out += fmt.Sprintf("[tool_result %s] %s\n", b.ToolResultUseID, b.ToolResultText())
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body anthropic.ErrorBody) {
	writeJSON(w, status, body)
}
