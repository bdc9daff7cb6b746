// Package config handles configuration loading for the bridge: the set of
// MCP servers Xcode's tools should be proxied through, the CLI tools
// allow-listed for the bridge's own built-in tool cache, and the policy
// governing automatic tool-call approval.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// MCPServer describes one external MCP server the bridge should start (or
// connect to) and advertise tools from, per spec.md §1's "Bridge process
// talks to N MCP servers" framing.
type MCPServer struct {
	// Type is "stdio" (default, spawn Command) or "sse"/"http" (connect to URL).
	Type string `yaml:"type,omitempty"`
	// Command is the executable to spawn for a stdio server.
	Command string `yaml:"command,omitempty"`
	// Args is the raw, shell-quoted argument string for Command. Prefer this
	// over a pre-split list so config authors can write the same command
	// line they'd type in a terminal.
	Args string `yaml:"args,omitempty"`
	// URL is the endpoint for a non-stdio server.
	URL string `yaml:"url,omitempty"`
	// Env is additional environment variables passed to a spawned server.
	Env map[string]string `yaml:"env,omitempty"`
	// AllowedTools restricts which of the server's advertised tools are
	// exposed to Xcode. Empty means all tools are allowed.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
}

// Argv splits Args using shell quoting rules, returning Command prepended.
func (s MCPServer) Argv() ([]string, error) {
	parts, err := shlex.Split(s.Args)
	if err != nil {
		return nil, fmt.Errorf("invalid args for command %q: %w", s.Command, err)
	}
	return append([]string{s.Command}, parts...), nil
}

// AutoApprovePermissions controls which permission requests the bridge
// approves without forwarding to the user, per spec.md §4.5's hook design.
// It accepts three YAML shapes:
//
//	auto_approve_permissions: true                  # approve everything
//	auto_approve_permissions: [Read, Grep]           # approve these kinds
//	auto_approve_permissions: 'kind == "Read"'       # CEL expression
type AutoApprovePermissions struct {
	All   bool
	Kinds []string
	Expr  string
}

func (a *AutoApprovePermissions) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err == nil {
			a.All = b
			return nil
		}
		var s string
		if err := value.Decode(&s); err != nil {
			return fmt.Errorf("auto_approve_permissions: %w", err)
		}
		a.Expr = s
		return nil
	case yaml.SequenceNode:
		var kinds []string
		if err := value.Decode(&kinds); err != nil {
			return fmt.Errorf("auto_approve_permissions: %w", err)
		}
		a.Kinds = kinds
		return nil
	default:
		return fmt.Errorf("auto_approve_permissions: unsupported YAML node kind %v", value.Kind)
	}
}

// DefaultBodyLimit is used when Config.BodyLimit is unset.
const DefaultBodyLimit = 10 << 20 // 10 MiB, per spec.md §6's request-size note.

// Config is the bridge's top-level configuration, loaded once at startup
// and reloaded on change (see Watcher in watcher.go).
type Config struct {
	// MCPServers maps a server name to its definition. Each entry is copied
	// into every new session's MCP server list (see sessioncfg.Build).
	MCPServers map[string]MCPServer `yaml:"mcp_servers,omitempty"`
	// AllowedCliTools lists the built-in tool names (Read, Grep, Edit, ...)
	// the bridge advertises directly, independent of any MCP server.
	AllowedCliTools []string `yaml:"allowed_cli_tools,omitempty"`
	// ExcludedFilePatterns is loaded and shown by the debug MCP server's
	// config view; no part of the bridge applies these patterns to files or
	// to message content.
	ExcludedFilePatterns []string `yaml:"excluded_file_patterns,omitempty"`
	// BodyLimit caps request body size in bytes; zero means DefaultBodyLimit.
	BodyLimit int `yaml:"body_limit,omitempty"`
	// AutoApprovePermissions governs automatic permission-request approval.
	AutoApprovePermissions AutoApprovePermissions `yaml:"auto_approve_permissions,omitempty"`
	// PreToolUseExpr is an optional CEL expression evaluated against
	// {tool_name, allowed_cli_tools, bridge} for a tool call that
	// AllowedCliTools/MCPServer.AllowedTools would otherwise deny; true
	// grants the call. Evaluated only as a fallback, so it can widen the
	// base allow-list rules but never narrow them.
	PreToolUseExpr string `yaml:"pre_tool_use_expr,omitempty"`
	// ReasoningEffort ("low", "medium", "high") is passed to every new
	// session whose model supports reasoning effort; requests carry no
	// effort setting of their own.
	ReasoningEffort string `yaml:"reasoning_effort,omitempty"`
	// Port is shown by the debug MCP server's config view. The serve
	// command listens on the port given by its --port flag and does not
	// read this field.
	Port int `yaml:"port,omitempty"`
	// Sandbox restricts the filesystem and network access of the stdio MCP
	// server subprocesses that "xcbridge tools test" spawns. Nil means
	// unrestricted (plain exec). The serve command does not read it.
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty"`
}

// SandboxConfig is the single, global sandboxing policy applied to every
// subprocess started through internal/runner. Unlike the teacher's per-workspace,
// per-agent layered restrictions, xcbridge has exactly one runner per
// process, so there is nothing to merge.
type SandboxConfig struct {
	// Type selects the restriction backend: "exec" (no restriction,
	// default), "sandbox-exec" (macOS seatbelt), "firejail", or "docker".
	Type string `yaml:"type,omitempty"`
	// AllowNetworking permits outbound network access. Nil means the
	// runner's own default (typically allowed).
	AllowNetworking *bool `yaml:"allow_networking,omitempty"`
	// AllowReadFolders lists folders readable by the sandboxed process, in
	// addition to the workspace root. Supports $WORKSPACE/$HOME/$TMPDIR
	// substitution and "~/" expansion.
	AllowReadFolders []string `yaml:"allow_read_folders,omitempty"`
	// AllowWriteFolders lists folders writable by the sandboxed process, in
	// addition to the workspace root.
	AllowWriteFolders []string `yaml:"allow_write_folders,omitempty"`
	// Docker configures the "docker" runner type.
	Docker DockerConfig `yaml:"docker,omitempty"`
}

// DockerConfig configures the docker sandbox backend.
type DockerConfig struct {
	Image       string `yaml:"image,omitempty"`
	MemoryLimit string `yaml:"memory_limit,omitempty"`
	CPULimit    string `yaml:"cpu_limit,omitempty"`
}

// EffectiveBodyLimit returns BodyLimit, or DefaultBodyLimit if unset.
func (c *Config) EffectiveBodyLimit() int {
	if c.BodyLimit <= 0 {
		return DefaultBodyLimit
	}
	return c.BodyLimit
}

// Source indicates where a Config was loaded from.
type Source int

const (
	SourceDefault Source = iota
	SourceCustomFile
	SourceEnv
)

// LoadResult pairs a Config with provenance, mirroring the source-tracking
// pattern used throughout this package's teacher predecessor.
type LoadResult struct {
	Config     *Config
	Source     Source
	SourcePath string
}

// DefaultConfigPath returns the default configuration file path for the
// current platform, honoring XCBRIDGE_CONFIG as an override.
func DefaultConfigPath() string {
	if envPath := os.Getenv("XCBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, "xcbridge", "config.yaml")
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads the config at path, falling back to an empty default
// Config (no MCP servers, no CLI tools) if path does not exist. An explicit
// path (e.g. from --config) that fails to read for any other reason is
// still an error.
func LoadOrDefault(path string) (*LoadResult, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &LoadResult{Config: &Config{}, Source: SourceDefault}, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: SourceCustomFile, SourcePath: path}, nil
}
