// Package policy evaluates the CEL-expression form of autoApprovePermissions
// and hooks.onPreToolUse, extending (never replacing) the boolean/array forms
// specified in spec.md §4.5. This package has no teacher analogue — cel-go
// sits in the teacher's go.mod unused — so its shape follows cel-go's own
// documented env.Compile/Program.Eval usage directly.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// PermissionVars are the variables a permission-approval expression is
// evaluated against: `kind == "Read"`.
type PermissionVars struct {
	Kind     string
	ToolName string
}

// PreToolUseVars are the variables a pre-tool-use expression is evaluated
// against: `tool_name in allowed_cli_tools`.
type PreToolUseVars struct {
	ToolName        string
	AllowedCliTools []string
	Bridge          bool
}

// Expr is a compiled CEL expression, cached so repeated evaluation (once
// per permission request or tool call) doesn't recompile the program.
type Expr struct {
	program cel.Program
}

func newEnv(declarations ...cel.EnvOption) (*cel.Env, error) {
	return cel.NewEnv(declarations...)
}

// CompilePermissionExpr compiles src for evaluation against PermissionVars.
func CompilePermissionExpr(src string) (*Expr, error) {
	env, err := newEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: building CEL env: %w", err)
	}
	return compile(env, src)
}

// CompilePreToolUseExpr compiles src for evaluation against PreToolUseVars.
func CompilePreToolUseExpr(src string) (*Expr, error) {
	env, err := newEnv(
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("allowed_cli_tools", cel.ListType(cel.StringType)),
		cel.Variable("bridge", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: building CEL env: %w", err)
	}
	return compile(env, src)
}

func compile(env *cel.Env, src string) (*Expr, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compiling %q: %w", src, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: building program for %q: %w", src, err)
	}
	return &Expr{program: prg}, nil
}

// EvalPermission evaluates the expression against vars, returning whether
// the permission request should be auto-approved.
func (e *Expr) EvalPermission(vars PermissionVars) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{
		"kind":      vars.Kind,
		"tool_name": vars.ToolName,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluating permission expr: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: permission expr did not evaluate to bool, got %T", out.Value())
	}
	return b, nil
}

// EvalPreToolUse evaluates the expression against vars, returning whether
// the tool call should be allowed.
func (e *Expr) EvalPreToolUse(vars PreToolUseVars) (bool, error) {
	tools := make([]any, len(vars.AllowedCliTools))
	for i, t := range vars.AllowedCliTools {
		tools[i] = t
	}
	out, _, err := e.program.Eval(map[string]any{
		"tool_name":         vars.ToolName,
		"allowed_cli_tools": tools,
		"bridge":            vars.Bridge,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluating pre-tool-use expr: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: pre-tool-use expr did not evaluate to bool, got %T", out.Value())
	}
	return b, nil
}
