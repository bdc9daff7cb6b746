package toolcache

import (
	"testing"

	"github.com/xcbridge/xcbridge/internal/anthropic"
)

func defTool(name string) anthropic.ToolDefinition {
	return anthropic.ToolDefinition{Name: name}
}

func TestResolveNameUniqueSuffixMatch(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{defTool("mcp__xcode-tools__XcodeRead")})

	if got := c.ResolveName("XcodeRead"); got != "mcp__xcode-tools__XcodeRead" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveNameNoMatchPassesThrough(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{defTool("mcp__xcode-tools__XcodeRead")})

	if got := c.ResolveName("Read"); got != "Read" {
		t.Fatalf("got %q, want unchanged", got)
	}
}

func TestResolveNameAmbiguousPassesThrough(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{defTool("mcp__a__Read"), defTool("mcp__b__Read")})

	if got := c.ResolveName("Read"); got != "Read" {
		t.Fatalf("got %q, want unchanged on ambiguous match", got)
	}
}

func TestResolveNameIdempotent(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{defTool("mcp__xcode-tools__XcodeRead")})

	once := c.ResolveName("XcodeRead")
	twice := c.ResolveName(once)
	if once != twice {
		t.Fatalf("resolveName not idempotent: %q != %q", once, twice)
	}
}

func grepTool() anthropic.ToolDefinition {
	return anthropic.ToolDefinition{
		Name: "Grep",
		InputSchema: anthropic.ToolInputSchema{
			Type: "object",
			Properties: map[string]anthropic.SchemaProperty{
				"output_mode": {Type: "string", Enum: []string{"content", "files_with_matches", "count"}},
				"-i":          {Type: "boolean"},
			},
		},
	}
}

func TestNormalizeArgsKeyAndEnumCasing(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{grepTool()})

	got := c.NormalizeArgs("Grep", map[string]any{
		"outputMode": "filesWithMatches",
		"ignoreCase": true,
	})

	want := map[string]any{
		"output_mode": "files_with_matches",
		"-i":          true,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("got[%q] = %v, want %v (full: %+v)", k, got[k], v, got)
		}
	}
}

func TestNormalizeArgsPreservesUnknownKeys(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{grepTool()})

	got := c.NormalizeArgs("Grep", map[string]any{
		"totallyUnknownKey": "value",
	})
	if got["totallyUnknownKey"] != "value" {
		t.Fatalf("unknown key dropped: %+v", got)
	}
}

func TestNormalizeArgsUnknownToolPassesThrough(t *testing.T) {
	c := New()
	args := map[string]any{"a": 1}
	got := c.NormalizeArgs("NoSuchTool", args)
	if len(got) != 1 || got["a"] != 1 {
		t.Fatalf("expected unchanged args for unknown tool, got %+v", got)
	}
}

func TestNormalizeArgsNoPropertiesPassesThrough(t *testing.T) {
	c := New()
	c.Set([]anthropic.ToolDefinition{{Name: "Bare"}})
	args := map[string]any{"a": 1}
	got := c.NormalizeArgs("Bare", args)
	if len(got) != 1 || got["a"] != 1 {
		t.Fatalf("expected unchanged args for schema-less tool, got %+v", got)
	}
}
