package mcpserver

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/xcbridge/xcbridge/internal/appdir"
	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/convo"
)

// ConversationInfo contains introspectable state for one conversation.
// Used by list_conversations.
type ConversationInfo struct {
	ID               string `json:"id"`
	SentMessageCount int    `json:"sent_message_count"`
	SessionStarted   bool   `json:"session_started"`
	SessionActive    bool   `json:"session_active"`
	HadError         bool   `json:"had_error"`
	PendingCalls     int    `json:"pending_calls"`
	ExpectedCalls    int    `json:"expected_calls"`
}

// conversationInfoFrom builds a ConversationInfo from a live Conversation.
func conversationInfoFrom(c *convo.Conversation) ConversationInfo {
	summary := c.State.Summarize()
	return ConversationInfo{
		ID:               c.ID,
		SentMessageCount: c.SentMessageCount,
		SessionStarted:   c.Session != nil,
		SessionActive:    summary.SessionActive,
		HadError:         summary.HadError,
		PendingCalls:     summary.PendingCalls,
		ExpectedCalls:    summary.ExpectedCalls,
	}
}

// ConfigInfo is a sanitized view of the bridge's effective configuration.
// MCP server Env maps are deliberately omitted since they may carry tokens.
type ConfigInfo struct {
	MCPServers           []MCPServerInfo `json:"mcp_servers"`
	AllowedCliTools      []string        `json:"allowed_cli_tools,omitempty"`
	ExcludedFilePatterns []string        `json:"excluded_file_patterns,omitempty"`
	AutoApproveAll       bool            `json:"auto_approve_all"`
	AutoApproveKinds     []string        `json:"auto_approve_kinds,omitempty"`
	AutoApproveExpr      string          `json:"auto_approve_expr,omitempty"`
	ReasoningEffort      string          `json:"reasoning_effort,omitempty"`
	Port                 int             `json:"port,omitempty"`
	BodyLimit            int             `json:"body_limit"`
	SandboxType          string          `json:"sandbox_type,omitempty"`
}

// MCPServerInfo describes one configured MCP server, without its Env map.
type MCPServerInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Command      string   `json:"command,omitempty"`
	URL          string   `json:"url,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// configToSafeOutput converts a config.Config to a sanitized ConfigInfo.
func configToSafeOutput(cfg *config.Config) *ConfigInfo {
	if cfg == nil {
		return nil
	}

	info := &ConfigInfo{
		MCPServers:           make([]MCPServerInfo, 0, len(cfg.MCPServers)),
		AllowedCliTools:      cfg.AllowedCliTools,
		ExcludedFilePatterns: cfg.ExcludedFilePatterns,
		AutoApproveAll:       cfg.AutoApprovePermissions.All,
		AutoApproveKinds:     cfg.AutoApprovePermissions.Kinds,
		AutoApproveExpr:      cfg.AutoApprovePermissions.Expr,
		ReasoningEffort:      cfg.ReasoningEffort,
		Port:                 cfg.Port,
		BodyLimit:            cfg.EffectiveBodyLimit(),
	}

	for name, srv := range cfg.MCPServers {
		typ := srv.Type
		if typ == "" {
			typ = "stdio"
		}
		info.MCPServers = append(info.MCPServers, MCPServerInfo{
			Name:         name,
			Type:         typ,
			Command:      srv.Command,
			URL:          srv.URL,
			AllowedTools: srv.AllowedTools,
		})
	}

	if cfg.Sandbox != nil {
		info.SandboxType = cfg.Sandbox.Type
	}

	return info
}

// RuntimeInfo contains runtime information about the xcbridge process.
type RuntimeInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	NumCPU   int    `json:"num_cpu"`
	Hostname string `json:"hostname,omitempty"`

	PID        int    `json:"pid"`
	Executable string `json:"executable,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`

	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`

	DataDir string `json:"data_dir,omitempty"`
	LogsDir string `json:"logs_dir,omitempty"`

	LogFiles LogFilesInfo `json:"log_files"`

	DirEnv    string `json:"xcbridge_dir_env,omitempty"`
	ConfigEnv string `json:"xcbridge_config_env,omitempty"`
}

// LogFilesInfo contains paths to log files.
type LogFilesInfo struct {
	MainLog string `json:"main_log,omitempty"`
}

// buildRuntimeInfo gathers runtime information about the xcbridge process.
func buildRuntimeInfo() *RuntimeInfo {
	info := &RuntimeInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		PID:          os.Getpid(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if exe, err := os.Executable(); err == nil {
		info.Executable = exe
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}

	if dataDir, err := appdir.Dir(); err == nil {
		info.DataDir = dataDir
	}
	if logsDir, err := appdir.LogsDir(); err == nil {
		info.LogsDir = logsDir
		info.LogFiles.MainLog = filepath.Join(logsDir, "xcbridge.log")
	}

	info.DirEnv = os.Getenv(appdir.DirEnv)
	info.ConfigEnv = os.Getenv("XCBRIDGE_CONFIG")

	return info
}
