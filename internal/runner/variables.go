package runner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xcbridge/xcbridge/internal/appdir"
	"github.com/xcbridge/xcbridge/internal/config"
)

// VariableResolver handles variable substitution in paths.
//
// Supported variables:
//   - $WORKSPACE or ${WORKSPACE} - Current workspace directory
//   - $HOME or ${HOME} - User's home directory
//   - $XCBRIDGE_DIR or ${XCBRIDGE_DIR} - xcbridge data directory
//   - $USER or ${USER} - Current username
//   - $TMPDIR or ${TMPDIR} - System temp directory
//
// Variables are resolved at runtime when the runner is created.
type VariableResolver struct {
	workspace   string
	home        string
	xcbridgeDir string
	user        string
	tmpDir      string
}

// NewVariableResolver creates a resolver with runtime values.
func NewVariableResolver(workspace string) (*VariableResolver, error) {
	home, _ := os.UserHomeDir()
	xcbridgeDir, _ := appdir.Dir()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME") // Windows fallback
	}
	tmpDir := os.TempDir()

	return &VariableResolver{
		workspace:   workspace,
		home:        home,
		xcbridgeDir: xcbridgeDir,
		user:        user,
		tmpDir:      tmpDir,
	}, nil
}

// Resolve replaces variables in a path.
//
// Supports both $VAR and ${VAR} syntax.
// Also expands ~ to home directory.
func (vr *VariableResolver) Resolve(path string) string {
	// Replace variables (both $VAR and ${VAR} syntax)
	path = strings.ReplaceAll(path, "$WORKSPACE", vr.workspace)
	path = strings.ReplaceAll(path, "${WORKSPACE}", vr.workspace)
	path = strings.ReplaceAll(path, "$HOME", vr.home)
	path = strings.ReplaceAll(path, "${HOME}", vr.home)
	path = strings.ReplaceAll(path, "$XCBRIDGE_DIR", vr.xcbridgeDir)
	path = strings.ReplaceAll(path, "${XCBRIDGE_DIR}", vr.xcbridgeDir)
	path = strings.ReplaceAll(path, "$USER", vr.user)
	path = strings.ReplaceAll(path, "${USER}", vr.user)
	path = strings.ReplaceAll(path, "$TMPDIR", vr.tmpDir)
	path = strings.ReplaceAll(path, "${TMPDIR}", vr.tmpDir)

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(vr.home, path[2:])
	}

	return path
}

// ResolvePaths resolves variables in a list of paths.
func (vr *VariableResolver) ResolvePaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	resolved := make([]string, len(paths))
	for i, path := range paths {
		resolved[i] = vr.Resolve(path)
	}
	return resolved
}

// resolveVariables resolves all path variables in a sandbox config.
func resolveVariables(sandbox *config.SandboxConfig, resolver *VariableResolver) *config.SandboxConfig {
	if sandbox == nil {
		return nil
	}

	resolved := &config.SandboxConfig{
		Type:            sandbox.Type,
		AllowNetworking: sandbox.AllowNetworking,
		Docker:          sandbox.Docker,
	}

	resolved.AllowReadFolders = resolver.ResolvePaths(sandbox.AllowReadFolders)
	resolved.AllowWriteFolders = resolver.ResolvePaths(sandbox.AllowWriteFolders)

	return resolved
}
