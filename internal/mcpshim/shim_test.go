package mcpshim

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func lines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func TestRunInitializeReplies(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, "http://unused", nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := lines(out)
	if len(got) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(got), got)
	}
	result, ok := got[0]["result"].(map[string]any)
	if !ok {
		t.Fatalf("missing result: %v", got[0])
	}
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("got protocolVersion %v", result["protocolVersion"])
	}
}

func TestRunNotificationsInitializedHasNoReply(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, "http://unused", nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestRunUnknownMethodWithIDGetsMethodNotFound(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":"x","method":"bogus"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, "http://unused", nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := lines(out)
	errBody, ok := got[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error body, got %v", got[0])
	}
	if int(errBody["code"].(float64)) != codeMethodNotFound {
		t.Fatalf("got code %v", errBody["code"])
	}
}

func TestRunUnknownMethodNotificationHasNoReply(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"bogus"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, "http://unused", nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestRunToolsListForwardsToBridge(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/tools" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Read"}]`))
	}))
	defer bridge.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, bridge.URL, nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := lines(out)
	result := got[0]["result"].(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "Read" {
		t.Fatalf("got %v", tools)
	}
}

func TestRunToolsCallForwardsAndWrapsContent(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/tool-call" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["name"] != "Read" {
			t.Fatalf("got name %v", body["name"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"FILE"}`))
	}))
	defer bridge.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"Read","arguments":{"path":"a.go"}}}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, bridge.URL, nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := lines(out)
	result := got[0]["result"].(map[string]any)
	content := result["content"].([]any)
	first := content[0].(map[string]any)
	if first["type"] != "text" || first["text"] != "FILE" {
		t.Fatalf("got %v", content)
	}
}

func TestRunToolsCallSurfacesBridgeErrorAsJSONRPCError(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"No expected tool call for Bogus"}`))
	}))
	defer bridge.Close()

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"Bogus","arguments":{}}}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, bridge.URL, nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := lines(out)
	errBody := got[0]["error"].(map[string]any)
	if int(errBody["code"].(float64)) != codeInternal {
		t.Fatalf("got code %v", errBody["code"])
	}
	if errBody["message"] != "No expected tool call for Bogus" {
		t.Fatalf("got message %v", errBody["message"])
	}
}

func TestRunIgnoresMalformedLineAndContinues(t *testing.T) {
	in := strings.NewReader("not json at all\n" + `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	out := &bytes.Buffer{}
	s := New(in, out, "http://unused", nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := lines(out)
	if len(got) != 1 {
		t.Fatalf("got %d lines, want 1 (malformed line should be skipped): %v", len(got), got)
	}
}
