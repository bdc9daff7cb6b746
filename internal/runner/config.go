package runner

import (
	grrunner "github.com/inercia/go-restricted-runner/pkg/runner"

	"github.com/xcbridge/xcbridge/internal/config"
)

// toRunnerOptions converts a SandboxConfig to go-restricted-runner options.
func toRunnerOptions(sandbox *config.SandboxConfig) grrunner.Options {
	options := grrunner.Options{}

	if sandbox == nil {
		return options
	}

	if sandbox.AllowNetworking != nil {
		options["allow_networking"] = *sandbox.AllowNetworking
	}

	if len(sandbox.AllowReadFolders) > 0 {
		options["allow_read_folders"] = sandbox.AllowReadFolders
	}

	if len(sandbox.AllowWriteFolders) > 0 {
		options["allow_write_folders"] = sandbox.AllowWriteFolders
	}

	if sandbox.Docker.Image != "" {
		options["image"] = sandbox.Docker.Image
	}
	if sandbox.Docker.MemoryLimit != "" {
		options["memory_limit"] = sandbox.Docker.MemoryLimit
	}
	if sandbox.Docker.CPULimit != "" {
		options["cpu_limit"] = sandbox.Docker.CPULimit
	}

	return options
}

// toRunnerType converts a SandboxConfig.Type string to runner.Type.
func toRunnerType(typeStr string) grrunner.Type {
	switch typeStr {
	case "sandbox-exec":
		return grrunner.TypeSandboxExec
	case "firejail":
		return grrunner.TypeFirejail
	case "docker":
		return grrunner.TypeDocker
	default:
		return grrunner.TypeExec
	}
}
