// Package sessionlib declares the interface the proxy uses to drive the
// out-of-scope internal session library: the config it is built from, the
// events it streams back, and the callbacks it invokes for permissions and
// tool-use policy. Per spec.md §1, the library itself is an external
// collaborator specified only by this interface; internal/sessionlib/fake
// provides a test double that drives it realistically.
package sessionlib

import (
	"context"

	"github.com/coder/acp-go-sdk"
)

// EventKind identifies the kind of Event streamed by a Session.
type EventKind string

const (
	EventTextDelta    EventKind = "text_delta"
	EventToolUse      EventKind = "tool_use"
	EventToolUseDelta EventKind = "tool_use_delta"
	EventIdle         EventKind = "idle"
	EventError        EventKind = "error"
)

// Event is one item streamed from a live Session.
type Event struct {
	Kind EventKind

	// EventTextDelta
	Text string

	// EventToolUse: a new tool call has been announced. Input carries the
	// full JSON-encoded arguments object known so far.
	ToolUseID   string
	ToolUseName string
	ToolInput   []byte

	// EventToolUseDelta: an incremental chunk of a tool call's input JSON,
	// for the same ToolUseID as the preceding EventToolUse.
	ToolInputDelta []byte

	// EventIdle
	StopReason string
	Usage      Usage

	// EventError
	Err error
}

// Usage mirrors token accounting reported by the session library.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// MCPServerSpec describes one MCP server to advertise to the session
// library, matching §4.5's "Copies user-configured MCP servers" step.
type MCPServerSpec struct {
	Name  string
	Type  string // "stdio" or "http"
	URL   string // for Type == "http"
	Command string // for Type == "stdio"
	Args    []string
	Env     map[string]string
	Tools   []string
}

// PermissionRequest is passed to the onPermissionRequest callback.
type PermissionRequest struct {
	Kind    string
	ToolUse acp.ToolCallUpdate
	Options []acp.PermissionOption
}

// PreToolUseRequest is passed to the hooks.onPreToolUse callback.
type PreToolUseRequest struct {
	ToolName string
}

// HookDecision is the result of a pre-tool-use hook evaluation.
type HookDecision string

const (
	HookAllow HookDecision = "allow"
	HookDeny  HookDecision = "deny"
)

// Config is the session parameters the Session Config Builder (C5)
// produces and Start consumes.
type Config struct {
	Model                  string
	SystemMessage          string
	Streaming              bool
	InfiniteSessionsEnabled bool
	ReasoningEffort        string
	WorkingDirectory       string
	MCPServers             []MCPServerSpec
	AvailableTools         []string // nil means "all CLI tools available"

	// AuthToken is the backend credential (e.g. a GitHub Copilot token)
	// the session library authenticates with, read from internal/secrets
	// at startup. Empty when no credential is configured; the out-of-scope
	// session library decides what that means.
	AuthToken string

	OnUserInputRequest func(ctx context.Context) (string, error)
	OnPermissionRequest func(ctx context.Context, req PermissionRequest) (acp.RequestPermissionResponse, error)
	OnPreToolUse        func(ctx context.Context, req PreToolUseRequest) HookDecision
}

// Session is a live, streaming conversation with the session library.
// Prompt appends a user turn and returns a channel of Events for that turn;
// the channel is closed after an EventIdle or EventError event.
// DeliverToolResult feeds a tool-call result back into an in-flight prompt;
// it must only be called for a ToolUseID previously seen via EventToolUse.
type Session interface {
	Prompt(ctx context.Context, text string) (<-chan Event, error)
	DeliverToolResult(ctx context.Context, toolUseID string, result string, isError bool) error
	Stop(ctx context.Context) error
}

// Starter starts new Sessions from a Config. The real implementation spawns
// and speaks to the out-of-scope session library; tests use
// internal/sessionlib/fake.Starter.
type Starter interface {
	Start(ctx context.Context, cfg Config) (Session, error)
}
