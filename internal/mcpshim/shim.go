// Package mcpshim implements the MCP Passthrough Shim (C8): a JSON-RPC 2.0
// server speaking newline-delimited JSON over stdio, the shape the session
// library expects of an MCP server it launches as a child process. Every
// tools/list and tools/call request is forwarded over HTTP to the bridge's
// own internal routes (C4) rather than answered locally — the shim carries
// no tool logic of its own, only the wire translation.
package mcpshim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const protocolVersion = "2024-11-05"

// jsonRPCRequest is the subset of JSON-RPC 2.0 the shim needs to read. Both
// requests (with an id) and notifications (without one) arrive shaped like
// this; Params is left raw since its shape depends on Method.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeMethodNotFound = -32601
	codeInternal       = -32603
)

// Shim reads JSON-RPC requests from In and writes responses to Out, one
// message per line, dispatching tools/list and tools/call to the bridge's
// internal HTTP endpoints reachable at BaseURL.
type Shim struct {
	In      io.Reader
	Out     io.Writer
	BaseURL string
	Client  *http.Client
	Log     *slog.Logger

	ServerName    string
	ServerVersion string
}

// New returns a Shim talking to the bridge at baseURL (e.g.
// "http://127.0.0.1:4040"). If client is nil, http.DefaultClient is used.
func New(in io.Reader, out io.Writer, baseURL string, client *http.Client, log *slog.Logger) *Shim {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Shim{
		In:            in,
		Out:           out,
		BaseURL:       baseURL,
		Client:        client,
		Log:           log,
		ServerName:    "xcbridge-mcp-shim",
		ServerVersion: "1.0.0",
	}
}

// Run reads requests from In until EOF or ctx is done, one line at a time,
// writing a response for every request that carries an id. It never
// returns an error for a single malformed line — only for a transport
// failure reading In or writing Out.
func (s *Shim) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := s.handleLine(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Shim) handleLine(ctx context.Context, line []byte) error {
	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.Log.Warn("discarding unparseable line on stdin", "error", err)
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.writeResult(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.ServerName, "version": s.ServerVersion},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(ctx, req.ID)
	case "tools/call":
		return s.handleToolsCall(ctx, req.ID, req.Params)
	default:
		if len(req.ID) == 0 {
			// Notification for an unknown method: no reply per JSON-RPC 2.0.
			return nil
		}
		return s.writeError(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Shim) handleToolsList(ctx context.Context, id json.RawMessage) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/internal/tools", nil)
	if err != nil {
		return s.writeError(id, codeInternal, err.Error())
	}
	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return s.writeError(id, codeInternal, "bridge unreachable: "+err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return s.writeError(id, codeInternal, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return s.writeError(id, codeInternal, fmt.Sprintf("bridge returned %d: %s", resp.StatusCode, string(body)))
	}

	var tools any
	if err := json.Unmarshal(body, &tools); err != nil {
		return s.writeError(id, codeInternal, "malformed tool catalog: "+err.Error())
	}
	return s.writeResult(id, map[string]any{"tools": tools})
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Shim) handleToolsCall(ctx context.Context, id json.RawMessage, raw json.RawMessage) error {
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return s.writeError(id, codeInternal, "malformed tools/call params: "+err.Error())
	}

	payload, err := json.Marshal(map[string]any{
		"name":      params.Name,
		"arguments": params.Arguments,
	})
	if err != nil {
		return s.writeError(id, codeInternal, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/internal/tool-call", bytes.NewReader(payload))
	if err != nil {
		return s.writeError(id, codeInternal, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return s.writeError(id, codeInternal, "bridge unreachable: "+err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return s.writeError(id, codeInternal, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		msg := errBody.Error
		if msg == "" {
			msg = string(body)
		}
		return s.writeError(id, codeInternal, msg)
	}

	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return s.writeError(id, codeInternal, "malformed tool-call response: "+err.Error())
	}

	return s.writeResult(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": result.Content},
		},
	})
}

func (s *Shim) writeResult(id json.RawMessage, result any) error {
	return s.write(jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Shim) writeError(id json.RawMessage, code int, message string) error {
	return s.write(jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &jsonRPCError{Code: code, Message: message}})
}

func (s *Shim) write(resp jsonRPCResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	_, err = s.Out.Write(encoded)
	return err
}

// DefaultHTTPClient returns a client tuned for a local-loopback bridge: a
// 5-minute timeout matching the longest possible tool-call parking window
// (spec.md §5's pending-call timeout), not the handful-of-seconds default
// appropriate for a public API.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5*time.Minute + 5*time.Second}
}
