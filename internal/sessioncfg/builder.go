// Package sessioncfg implements the Session Config Builder (C5): a pure
// function from the bridge's own configuration plus a request's parameters
// to the sessionlib.Config the session library is started with.
package sessioncfg

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/acp-go-sdk"

	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/policy"
	"github.com/xcbridge/xcbridge/internal/sessionlib"
)

// Params are the per-request inputs to Build, per spec.md §4.5's parameter
// list: "{model, systemMessage?, serverConfig, supportsReasoningEffort,
// workingDirectory, hasToolBridge, port, conversationId}".
type Params struct {
	Model                   string
	SystemMessage           string
	ServerConfig            *config.Config
	SupportsReasoningEffort bool
	WorkingDirectory        string
	HasToolBridge           bool
	Port                    int
	ConversationID          string
	// AuthToken is the backend credential fetched from internal/secrets at
	// startup, passed through unchanged to sessionlib.Config.
	AuthToken string
}

// Build produces a sessionlib.Config from params, implementing every rule
// in spec.md §4.5.
func Build(params Params) sessionlib.Config {
	cfg := sessionlib.Config{
		Model:                   params.Model,
		SystemMessage:           params.SystemMessage,
		Streaming:               true,
		InfiniteSessionsEnabled: true,
		WorkingDirectory:        params.WorkingDirectory,
		AuthToken:               params.AuthToken,
	}

	if params.ServerConfig.ReasoningEffort != "" && params.SupportsReasoningEffort {
		cfg.ReasoningEffort = params.ServerConfig.ReasoningEffort
	}

	cfg.MCPServers = buildMCPServers(params)
	cfg.AvailableTools = buildAvailableTools(params)

	cfg.OnUserInputRequest = func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("interactive user input is not available through this bridge")
	}
	cfg.OnPermissionRequest = buildPermissionCallback(params.ServerConfig)
	cfg.OnPreToolUse = buildPreToolUseHook(params)

	return cfg
}

// buildMCPServers copies every user-configured MCP server, forcing
// tools=["*"], then appends the synthetic xcode-bridge server when a tool
// bridge is in play.
func buildMCPServers(params Params) []sessionlib.MCPServerSpec {
	var out []sessionlib.MCPServerSpec
	for name, srv := range params.ServerConfig.MCPServers {
		spec := sessionlib.MCPServerSpec{
			Name:  name,
			Type:  srv.Type,
			URL:   srv.URL,
			Tools: []string{"*"},
			Env:   srv.Env,
		}
		if spec.Type == "" {
			spec.Type = "stdio"
		}
		if spec.Type == "stdio" {
			argv, err := srv.Argv()
			if err == nil && len(argv) > 0 {
				spec.Command = argv[0]
				spec.Args = argv[1:]
			} else {
				spec.Command = srv.Command
			}
		}
		out = append(out, spec)
	}

	if params.HasToolBridge {
		out = append(out, sessionlib.MCPServerSpec{
			Name:  "xcode-bridge",
			Type:  "http",
			URL:   fmt.Sprintf("http://127.0.0.1:%d/mcp/%s", params.Port, params.ConversationID),
			Tools: []string{"*"},
		})
	}

	return out
}

// buildAvailableTools implements: "If no bridge and allowedCliTools
// non-empty, passes that list as availableTools; otherwise omits the
// field (with a bridge, all CLI tools remain available and the permission
// hook filters)."
func buildAvailableTools(params Params) []string {
	if params.HasToolBridge {
		return nil
	}
	if len(params.ServerConfig.AllowedCliTools) == 0 {
		return nil
	}
	return params.ServerConfig.AllowedCliTools
}

// buildPermissionCallback implements autoApprovePermissions: boolean means
// uniform approval/denial, array means membership test on kind, and the
// CEL-expression extension (DOMAIN STACK) evaluates against {kind,
// tool_name}.
func buildPermissionCallback(cfg *config.Config) func(context.Context, sessionlib.PermissionRequest) (acp.RequestPermissionResponse, error) {
	auto := cfg.AutoApprovePermissions

	var expr *policy.Expr
	if auto.Expr != "" {
		compiled, err := policy.CompilePermissionExpr(auto.Expr)
		if err == nil {
			expr = compiled
		}
	}

	return func(ctx context.Context, req sessionlib.PermissionRequest) (acp.RequestPermissionResponse, error) {
		approve := false
		switch {
		case expr != nil:
			title := ""
			if req.ToolUse.Title != nil {
				title = *req.ToolUse.Title
			}
			ok, err := expr.EvalPermission(policy.PermissionVars{Kind: req.Kind, ToolName: title})
			approve = err == nil && ok
		case auto.All:
			approve = true
		case len(auto.Kinds) > 0:
			for _, k := range auto.Kinds {
				if k == req.Kind {
					approve = true
					break
				}
			}
		}

		if approve {
			for _, opt := range req.Options {
				if opt.Kind == acp.PermissionOptionKindAllowOnce || opt.Kind == acp.PermissionOptionKindAllowAlways {
					return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Selected: &acp.RequestPermissionOutcomeSelected{OptionId: opt.OptionId}}}, nil
				}
			}
		}
		return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}}}, nil
	}
}

// buildPreToolUseHook implements: allow when the tool name begins with
// "xcode-bridge-" OR is in allowedCliTools (with "*" wildcard) OR is in any
// user MCP server's allowedTools (with "*" wildcard); deny otherwise. The
// CEL extension additionally accepts a policy expression
// (config.Config.PreToolUseExpr) evaluated against {tool_name,
// allowed_cli_tools, bridge} as a fallback for calls the base rules would
// otherwise deny.
func buildPreToolUseHook(params Params) func(context.Context, sessionlib.PreToolUseRequest) sessionlib.HookDecision {
	cfg := params.ServerConfig

	var expr *policy.Expr
	if cfg.PreToolUseExpr != "" {
		compiled, err := policy.CompilePreToolUseExpr(cfg.PreToolUseExpr)
		if err == nil {
			expr = compiled
		}
	}

	return func(ctx context.Context, req sessionlib.PreToolUseRequest) sessionlib.HookDecision {
		if strings.HasPrefix(req.ToolName, "xcode-bridge-") {
			return sessionlib.HookAllow
		}
		if listContains(cfg.AllowedCliTools, req.ToolName) {
			return sessionlib.HookAllow
		}
		for _, srv := range cfg.MCPServers {
			if listContains(srv.AllowedTools, req.ToolName) {
				return sessionlib.HookAllow
			}
		}
		if expr != nil {
			ok, err := expr.EvalPreToolUse(policy.PreToolUseVars{
				ToolName:        req.ToolName,
				AllowedCliTools: cfg.AllowedCliTools,
				Bridge:          params.HasToolBridge,
			})
			if err == nil && ok {
				return sessionlib.HookAllow
			}
		}
		return sessionlib.HookDeny
	}
}

// listContains reports whether list contains name or the wildcard "*".
func listContains(list []string, name string) bool {
	for _, item := range list {
		if item == "*" || item == name {
			return true
		}
	}
	return false
}
