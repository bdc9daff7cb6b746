package sessioncfg

import (
	"context"
	"testing"

	"github.com/coder/acp-go-sdk"

	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/sessionlib"
)

func TestBuildSetsStreamingAndInfiniteSessions(t *testing.T) {
	cfg := Build(Params{Model: "m", ServerConfig: &config.Config{}})
	if !cfg.Streaming || !cfg.InfiniteSessionsEnabled {
		t.Fatal("expected streaming and infinite sessions enabled")
	}
}

func TestBuildAddsSyntheticBridgeServer(t *testing.T) {
	cfg := Build(Params{
		ServerConfig:   &config.Config{},
		HasToolBridge:  true,
		Port:           4040,
		ConversationID: "conv1",
	})
	var found *sessionlib.MCPServerSpec
	for i := range cfg.MCPServers {
		if cfg.MCPServers[i].Name == "xcode-bridge" {
			found = &cfg.MCPServers[i]
		}
	}
	if found == nil {
		t.Fatal("expected xcode-bridge server")
	}
	if found.URL != "http://127.0.0.1:4040/mcp/conv1" {
		t.Fatalf("got url %q", found.URL)
	}
	if len(found.Tools) != 1 || found.Tools[0] != "*" {
		t.Fatalf("got tools %v", found.Tools)
	}
}

func TestBuildAvailableToolsOmittedWithBridge(t *testing.T) {
	cfg := Build(Params{
		ServerConfig:  &config.Config{AllowedCliTools: []string{"Read"}},
		HasToolBridge: true,
	})
	if cfg.AvailableTools != nil {
		t.Fatalf("expected nil available tools with bridge, got %v", cfg.AvailableTools)
	}
}

func TestBuildAvailableToolsSetWithoutBridge(t *testing.T) {
	cfg := Build(Params{
		ServerConfig:  &config.Config{AllowedCliTools: []string{"Read", "Grep"}},
		HasToolBridge: false,
	})
	if len(cfg.AvailableTools) != 2 {
		t.Fatalf("got %v", cfg.AvailableTools)
	}
}

func TestBuildReasoningEffortOnlyWhenSupported(t *testing.T) {
	cfg := Build(Params{
		ServerConfig:            &config.Config{ReasoningEffort: "high"},
		SupportsReasoningEffort: false,
	})
	if cfg.ReasoningEffort != "" {
		t.Fatalf("expected no reasoning effort when unsupported, got %q", cfg.ReasoningEffort)
	}

	cfg2 := Build(Params{
		ServerConfig:            &config.Config{ReasoningEffort: "high"},
		SupportsReasoningEffort: true,
	})
	if cfg2.ReasoningEffort != "high" {
		t.Fatalf("expected reasoning effort, got %q", cfg2.ReasoningEffort)
	}
}

func TestOnUserInputRequestRefuses(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{}})
	_, err := cfg.OnUserInputRequest(context.Background())
	if err == nil {
		t.Fatal("expected a refusal error")
	}
}

func TestPreToolUseHookAllowsBridgeTraffic(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{}})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "xcode-bridge-Read"}) != sessionlib.HookAllow {
		t.Fatal("expected allow for xcode-bridge- prefixed tool")
	}
}

func TestPreToolUseHookAllowsAllowedCliTools(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{AllowedCliTools: []string{"Read"}}})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "Read"}) != sessionlib.HookAllow {
		t.Fatal("expected allow")
	}
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "Write"}) != sessionlib.HookDeny {
		t.Fatal("expected deny")
	}
}

func TestPreToolUseHookWildcardAllowsAll(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{AllowedCliTools: []string{"*"}}})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "AnythingAtAll"}) != sessionlib.HookAllow {
		t.Fatal("expected wildcard allow")
	}
}

func TestPreToolUseHookAllowsMCPServerAllowedTools(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{
		MCPServers: map[string]config.MCPServer{
			"fs": {AllowedTools: []string{"read_file"}},
		},
	}})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "read_file"}) != sessionlib.HookAllow {
		t.Fatal("expected allow via MCP server allowed tools")
	}
}

func TestPreToolUseHookExprFallsBackAfterBaseRulesDeny(t *testing.T) {
	cfg := Build(Params{
		ServerConfig: &config.Config{
			AllowedCliTools: []string{"Read"},
			PreToolUseExpr:  `bridge && tool_name == "Grep"`,
		},
		HasToolBridge: true,
	})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "Grep"}) != sessionlib.HookAllow {
		t.Fatal("expected the CEL expression to allow Grep")
	}
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "Write"}) != sessionlib.HookDeny {
		t.Fatal("expected deny for a tool matched by neither the base rules nor the expression")
	}
}

func TestPreToolUseHookInvalidExprFallsBackToDeny(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{PreToolUseExpr: "not a valid expr((("}})
	if cfg.OnPreToolUse(context.Background(), sessionlib.PreToolUseRequest{ToolName: "Grep"}) != sessionlib.HookDeny {
		t.Fatal("expected deny when the configured expression fails to compile")
	}
}

func TestAutoApprovePermissionsBooleanForm(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{AutoApprovePermissions: config.AutoApprovePermissions{All: true}}})
	resp, err := cfg.OnPermissionRequest(context.Background(), sessionlib.PermissionRequest{
		Kind:    "Read",
		Options: []acp.PermissionOption{{OptionId: "allow", Kind: acp.PermissionOptionKindAllowOnce}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome.Selected == nil || resp.Outcome.Selected.OptionId != "allow" {
		t.Fatalf("expected selected allow option, got %+v", resp.Outcome)
	}
}

func TestAutoApprovePermissionsKindsForm(t *testing.T) {
	cfg := Build(Params{ServerConfig: &config.Config{AutoApprovePermissions: config.AutoApprovePermissions{Kinds: []string{"Read"}}}})
	resp, err := cfg.OnPermissionRequest(context.Background(), sessionlib.PermissionRequest{
		Kind:    "Write",
		Options: []acp.PermissionOption{{OptionId: "allow", Kind: acp.PermissionOptionKindAllowOnce}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome.Cancelled == nil {
		t.Fatal("expected cancellation for a kind not in the allow-list")
	}
}
