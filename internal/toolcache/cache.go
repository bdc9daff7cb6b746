// Package toolcache implements the Tool Cache (C1): the per-conversation
// catalog of tools currently known to the model, plus the hallucinated-name
// resolution and argument-casing normalization that keep tool calls from
// failing on cosmetic mismatches.
package toolcache

import (
	"strings"
	"sync"

	"github.com/xcbridge/xcbridge/internal/anthropic"
)

// Cache holds the current tool catalog for one conversation and resolves
// names/arguments against it. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	tools  []anthropic.ToolDefinition
	byName map[string]anthropic.ToolDefinition
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byName: make(map[string]anthropic.ToolDefinition)}
}

// Set replaces the stored catalog wholesale.
func (c *Cache) Set(tools []anthropic.ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.byName = make(map[string]anthropic.ToolDefinition, len(tools))
	for _, t := range tools {
		c.byName[t.Name] = t
	}
}

// Get returns the stored catalog. May be empty.
func (c *Cache) Get() []anthropic.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]anthropic.ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// ResolveName returns name unchanged if it exactly matches a cached tool.
// Otherwise, among cached tools whose name ends with "__" + name, it
// returns the unique match; on zero or multiple matches it returns name
// unchanged (ambiguous resolution is treated as no resolution).
func (c *Cache) ResolveName(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.byName[name]; ok {
		return name
	}

	suffix := "__" + name
	var match string
	count := 0
	for _, t := range c.tools {
		if strings.HasSuffix(t.Name, suffix) {
			match = t.Name
			count++
		}
	}
	if count == 1 {
		return match
	}
	return name
}

// fixed alias table for short/legacy argument names the model tends to use.
var argAliases = map[string]string{
	"ignoreCase":    "-i",
	"lineNumbers":   "-n",
	"afterContext":  "-A",
	"beforeContext": "-B",
}

// NormalizeArgs returns args unchanged if toolName is unknown or its schema
// declares no properties. Otherwise it remaps each key to a matching schema
// property (direct match, camelCase/snake_case conversion, or the fixed
// alias table) and, for enum-typed properties, remaps the value the same
// way. Unknown keys and values are passed through unchanged, never dropped.
func (c *Cache) NormalizeArgs(toolName string, args map[string]any) map[string]any {
	c.mu.RLock()
	tool, ok := c.byName[toolName]
	c.mu.RUnlock()
	if !ok || len(tool.InputSchema.Properties) == 0 {
		return args
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		targetKey, prop, matched := resolvePropertyKey(tool.InputSchema.Properties, k)
		if !matched {
			out[k] = v
			continue
		}
		out[targetKey] = normalizeValue(prop, v)
	}
	return out
}

// resolvePropertyKey finds the schema property key k should map to, trying
// (in order) an exact match, camelCase<->snake_case conversion, and the
// fixed alias table.
func resolvePropertyKey(props map[string]anthropic.SchemaProperty, k string) (string, anthropic.SchemaProperty, bool) {
	if p, ok := props[k]; ok {
		return k, p, true
	}
	if alt := toSnakeCase(k); alt != k {
		if p, ok := props[alt]; ok {
			return alt, p, true
		}
	}
	if alt := toCamelCase(k); alt != k {
		if p, ok := props[alt]; ok {
			return alt, p, true
		}
	}
	if alias, ok := argAliases[k]; ok {
		if p, ok := props[alias]; ok {
			return alias, p, true
		}
	}
	return "", anthropic.SchemaProperty{}, false
}

// normalizeValue converts v between camelCase/snake_case to match an enum
// member of prop, if prop declares a string enum and v is a string with a
// matching member under either casing. Otherwise v is returned unchanged.
func normalizeValue(prop anthropic.SchemaProperty, v any) any {
	if len(prop.Enum) == 0 {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	for _, member := range prop.Enum {
		if member == s {
			return v
		}
	}
	snake := toSnakeCase(s)
	camel := toCamelCase(s)
	for _, member := range prop.Enum {
		if member == snake || member == camel {
			return member
		}
	}
	return v
}

// toSnakeCase converts camelCase/PascalCase to snake_case. Already-snake
// strings are returned unchanged.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toCamelCase converts snake_case to camelCase. Already-camel strings are
// returned unchanged.
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
