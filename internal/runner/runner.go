// Package runner provides restricted execution for subprocesses started
// through it. Its one caller is "xcbridge tools test", which spawns each
// stdio MCP server named in config through it; "xcbridge serve" does not
// use this package.
//
// By default, subprocesses run with no restrictions (exec runner). Users
// can opt in to sandboxing via a single global sandbox setting in config.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inercia/go-restricted-runner/pkg/common"
	grrunner "github.com/inercia/go-restricted-runner/pkg/runner"

	"github.com/xcbridge/xcbridge/internal/config"
)

// Runner wraps go-restricted-runner for subprocess execution.
type Runner struct {
	runner grrunner.Runner
	config *ResolvedConfig
	logger *slog.Logger
	// FallbackInfo contains information about runner fallback, if it occurred.
	FallbackInfo *FallbackInfo
}

// FallbackInfo describes a runner fallback.
type FallbackInfo struct {
	// RequestedType is the runner type that was requested.
	RequestedType string
	// FallbackType is the runner type that was used instead (always "exec").
	FallbackType string
	// Reason is the error message explaining why fallback occurred.
	Reason string
}

// ResolvedConfig is the runner configuration after variable substitution.
type ResolvedConfig struct {
	Type    string
	Sandbox *config.SandboxConfig
}

// New creates a restricted runner from the bridge's single global sandbox
// setting. A nil sandbox, or one with an empty/unknown Type, produces an
// unrestricted exec runner.
func New(sandbox *config.SandboxConfig, workspace string, logger *slog.Logger) (*Runner, error) {
	runnerType := "exec"
	if sandbox != nil && sandbox.Type != "" {
		runnerType = sandbox.Type
	}

	varResolver, err := NewVariableResolver(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create variable resolver: %w", err)
	}
	resolvedSandbox := resolveVariables(sandbox, varResolver)

	options := toRunnerOptions(resolvedSandbox)

	runnerLogger, err := common.NewLogger("", "", common.LogLevelInfo, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner logger: %w", err)
	}

	resolved := &ResolvedConfig{Type: runnerType, Sandbox: resolvedSandbox}

	grType := toRunnerType(resolved.Type)
	if grType == grrunner.TypeExec {
		resolved.Type = "exec"
	}
	r, err := grrunner.New(grType, options, runnerLogger)

	var fallbackInfo *FallbackInfo

	if err != nil {
		if logger != nil {
			logger.Warn("restricted runner creation failed, falling back to exec",
				"requested_type", resolved.Type,
				"error", err.Error())
		}
		fallbackInfo = &FallbackInfo{RequestedType: resolved.Type, FallbackType: "exec", Reason: err.Error()}
		r, err = grrunner.New(grrunner.TypeExec, grrunner.Options{}, runnerLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback exec runner: %w", err)
		}
		resolved.Type = "exec"
	} else if err := r.CheckImplicitRequirements(); err != nil {
		if logger != nil {
			logger.Warn("restricted runner not available, falling back to exec",
				"requested_type", resolved.Type,
				"error", err.Error())
		}
		fallbackInfo = &FallbackInfo{RequestedType: resolved.Type, FallbackType: "exec", Reason: err.Error()}
		r, err = grrunner.New(grrunner.TypeExec, grrunner.Options{}, runnerLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback exec runner: %w", err)
		}
		resolved.Type = "exec"
	}

	if logger != nil {
		logger.Info("created restricted runner",
			"type", resolved.Type,
			"workspace", workspace,
			"fallback", fallbackInfo != nil)
	}

	return &Runner{
		runner:       r,
		config:       resolved,
		logger:       logger,
		FallbackInfo: fallbackInfo,
	}, nil
}

// RunWithPipes starts a command through the restricted runner with access to
// its stdio pipes, the shape both stdio MCP servers and the MCP passthrough
// shim subprocess need for interactive communication.
//
// The caller must close stdin when done writing and call wait() to release
// resources. Context cancellation kills the process.
func (r *Runner) RunWithPipes(
	ctx context.Context,
	command string,
	args []string,
	env []string,
) (stdin WriteCloser, stdout ReadCloser, stderr ReadCloser, wait func() error, err error) {
	return r.runner.RunWithPipes(ctx, command, args, env, nil)
}

// WriteCloser is an alias for io.WriteCloser for documentation clarity.
type WriteCloser = interface {
	Write(p []byte) (n int, err error)
	Close() error
}

// ReadCloser is an alias for io.ReadCloser for documentation clarity.
type ReadCloser = interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Type returns the runner type actually in use (after any fallback).
func (r *Runner) Type() string {
	return r.config.Type
}

// IsRestricted returns true if this runner applies restrictions (not exec).
func (r *Runner) IsRestricted() bool {
	return r.config.Type != "exec"
}
