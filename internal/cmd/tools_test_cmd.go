package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/logging"
	"github.com/xcbridge/xcbridge/internal/runner"
)

var toolsTestTimeout time.Duration

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog the bridge would advertise",
	}
	cmd.AddCommand(newToolsTestCmd())
	return cmd
}

func newToolsTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Spawn every configured stdio MCP server and list its tools",
		Long: `test is a non-interactive tool-bridge tester: it loads the config,
spawns each configured stdio MCP server through the restricted runner set
up from the config's sandbox setting, speaks just enough MCP (initialize, tools/list) to
list what each server advertises, and reports which servers are reachable.
It never starts an HTTP server or touches a real session.`,
		RunE: runToolsTest,
	}
	cmd.Flags().DurationVar(&toolsTestTimeout, "timeout", 15*time.Second, "per-server handshake timeout")
	return cmd
}

func runToolsTest(cmd *cobra.Command, args []string) error {
	result, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	cfg := result.Config

	if len(cfg.AllowedCliTools) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "built-in CLI tools: %v\n", cfg.AllowedCliTools)
	}
	if len(cfg.MCPServers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no MCP servers configured")
		return nil
	}

	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	workdir, err := os.Getwd()
	if err != nil {
		return err
	}
	r, err := runner.New(cfg.Sandbox, workdir, logging.WithComponent("tools-test"))
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	failures := 0
	for _, name := range names {
		srv := cfg.MCPServers[name]
		if srv.Type != "" && srv.Type != "stdio" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: skipping (type %q, only stdio servers are tested)\n", name, srv.Type)
			continue
		}
		tools, err := probeStdioServer(cmd.Context(), r, srv)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED — %v\n", name, err)
			failures++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK — %d tool(s): %v\n", name, len(tools), tools)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d server(s) failed", failures, len(names))
	}
	return nil
}

// probeStdioServer spawns srv, performs the minimal MCP handshake
// (initialize, notifications/initialized, tools/list) over its stdio
// pipes, and returns the advertised tool names.
func probeStdioServer(ctx context.Context, r *runner.Runner, srv config.MCPServer) ([]string, error) {
	argv, err := srv.Argv()
	if err != nil {
		return nil, err
	}
	env := make([]string, 0, len(srv.Env))
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}

	ctx, cancel := context.WithTimeout(ctx, toolsTestTimeout)
	defer cancel()

	stdin, stdout, _, wait, err := r.RunWithPipes(ctx, argv[0], argv[1:], env)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		_ = stdin.Close()
		_ = wait()
	}()

	reader := bufio.NewReader(stdout)

	if err := writeRPCLine(stdin, 1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "xcbridge-tools-test", "version": "1.0.0"},
	}); err != nil {
		return nil, err
	}
	if _, err := readRPCResult(reader); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	if err := writeRPCNotification(stdin, "notifications/initialized", map[string]any{}); err != nil {
		return nil, err
	}

	if err := writeRPCLine(stdin, 2, "tools/list", map[string]any{}); err != nil {
		return nil, err
	}
	result, err := readRPCResult(reader)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	var parsed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	names := make([]string, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		if len(srv.AllowedTools) > 0 && !allowListContains(srv.AllowedTools, t.Name) {
			continue
		}
		names = append(names, t.Name)
	}
	return names, nil
}

func allowListContains(list []string, name string) bool {
	for _, item := range list {
		if item == "*" || item == name {
			return true
		}
	}
	return false
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func writeRPCLine(w interface{ Write([]byte) (int, error) }, id int, method string, params any) error {
	line, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func writeRPCNotification(w interface{ Write([]byte) (int, error) }, method string, params any) error {
	line, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

// readRPCResult reads lines until one is a JSON-RPC response carrying a
// result or error, skipping any server-initiated notifications in between.
func readRPCResult(r *bufio.Reader) (json.RawMessage, error) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var env rpcEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		if env.ID == 0 && env.Method != "" {
			continue // notification, not our response
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%s", env.Error.Message)
		}
		return env.Result, nil
	}
}
