// Package bridgehttp implements the Bridge HTTP Routes (C4): the local-only
// endpoints that let the MCP Passthrough Shim (C8) fetch the tool catalog
// and park a tool call until the session's continuation request resolves
// it.
package bridgehttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/convo"
)

// Handler serves the bridge's internal HTTP surface. It is process-wide but
// dispatches by the conversation id embedded in the path, per spec.md §5's
// "Shared resources" note.
type Handler struct {
	manager *convo.Manager
	log     *slog.Logger
}

// New returns a Handler backed by manager.
func New(manager *convo.Manager, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// Register mounts the bridge routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /mcp/{convId}/tools", h.handleTools)
	mux.HandleFunc("POST /mcp/{convId}/tool-call", h.handleToolCall)
	mux.HandleFunc("GET /internal/tools", h.handleToolsGlobal)
	mux.HandleFunc("POST /internal/tool-call", h.handleToolCallGlobal)
}

type toolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolCallResponse struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// catalogEntry is a tool's MCP tools/list shape: {name,description,
// inputSchema}. The MCP Passthrough Shim (C8) forwards the cache's catalog
// verbatim as a tools/list result, and MCP clients read "inputSchema", not
// anthropic.ToolDefinition's wire key "input_schema" — so the catalog
// routes rename the field rather than marshal the cache's tools directly.
type catalogEntry struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	InputSchema anthropic.ToolInputSchema `json:"inputSchema"`
}

func toCatalog(tools []anthropic.ToolDefinition) []catalogEntry {
	out := make([]catalogEntry, len(tools))
	for i, t := range tools {
		out[i] = catalogEntry{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) conversationByID(convID string) *convo.Conversation {
	if convID == "" {
		return nil
	}
	return h.manager.Get(convID)
}

// handleTools serves GET /mcp/:convId/tools: the cached tool catalog as
// [{name,description,inputSchema}].
func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("convId")
	c := h.conversationByID(convID)
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown conversation"})
		return
	}
	writeJSON(w, http.StatusOK, toCatalog(c.State.Cache().Get()))
}

// handleToolsGlobal serves GET /internal/tools for single-conversation
// deployments: the most recently created conversation's cache.
func (h *Handler) handleToolsGlobal(w http.ResponseWriter, r *http.Request) {
	c := h.manager.Newest()
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active conversation"})
		return
	}
	writeJSON(w, http.StatusOK, toCatalog(c.State.Cache().Get()))
}

// handleToolCall serves POST /mcp/:convId/tool-call.
func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("convId")
	c := h.conversationByID(convID)
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown conversation"})
		return
	}
	h.serveToolCall(w, r, c)
}

// handleToolCallGlobal serves POST /internal/tool-call, resolving the
// conversation by findByExpectedTool(name) per spec.md §4.4's
// single-conversation mode. Since no conversation id is known yet,
// FindByExpectedTool resolves the name against each candidate
// conversation's own Tool Cache while it searches, and the resolved name
// it returns is what runToolCall then uses.
func (h *Handler) handleToolCallGlobal(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	c, resolvedName := h.manager.FindByExpectedTool(req.Name)
	if c == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "No expected tool call for " + req.Name})
		return
	}
	req.Name = resolvedName
	h.runToolCall(w, c, req)
}

// serveToolCall decodes the body once and runs the call against c.
func (h *Handler) serveToolCall(w http.ResponseWriter, r *http.Request, c *convo.Conversation) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	h.runToolCall(w, c, req)
}

// runToolCall resolves req.Name against c's Tool Cache (C1) — so a
// hallucinated short or mis-cased name still matches the queue registered
// under the session's actual emitted name — then registers the MCP
// request and holds the reply open until resolve, reject, or timeout. Per
// spec.md §4.4's contract, a client disconnect here does not eagerly
// remove the pending entry — the next session-end pass rejects it.
//
// req.Arguments is also normalized through NormalizeArgs and logged
// alongside the resolved name, but has no further downstream consumer:
// Xcode already received the call's arguments in the tool_use content
// block the Streaming Transform (C6) emitted earlier, so there is nowhere
// in this bridge for a normalized copy to be forwarded to. The normalized
// form only matters for diagnosing a casing/alias mismatch after the fact.
func (h *Handler) runToolCall(w http.ResponseWriter, c *convo.Conversation, req toolCallRequest) {
	cache := c.State.Cache()
	resolvedName := cache.ResolveName(req.Name)
	normalizedArgs := cache.NormalizeArgs(resolvedName, req.Arguments)

	_, result, err := c.State.RegisterMCPRequest(resolvedName)
	if err != nil {
		h.log.Warn("tool call rejected at registration", "tool_name", req.Name, "resolved_name", resolvedName, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.log.Debug("tool call registered", "tool_name", req.Name, "resolved_name", resolvedName, "arguments", normalizedArgs)

	r := <-result
	if r.Err != nil {
		status := http.StatusInternalServerError
		writeJSON(w, status, errorResponse{Error: r.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toolCallResponse{Content: r.Value})
}
