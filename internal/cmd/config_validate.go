package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/policy"
)

// policyExprCheck compiles expr as a permission policy expression, returning
// any compile error without evaluating it against real inputs.
func policyExprCheck(expr string) (*policy.Expr, error) {
	return policy.CompilePermissionExpr(expr)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the bridge's configuration",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and sanity-check the config file",
		RunE:  runConfigValidate,
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	result, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	cfg := result.Config

	switch result.Source {
	case config.SourceDefault:
		fmt.Fprintln(cmd.OutOrStdout(), "no config file found, using built-in defaults")
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "loaded config from %s\n", result.SourcePath)
	}

	var problems []string
	for name, srv := range cfg.MCPServers {
		if srv.Type != "" && srv.Type != "stdio" && srv.Type != "sse" && srv.Type != "http" {
			problems = append(problems, fmt.Sprintf("mcp_servers.%s: unknown type %q", name, srv.Type))
			continue
		}
		if (srv.Type == "" || srv.Type == "stdio") && srv.Command == "" {
			problems = append(problems, fmt.Sprintf("mcp_servers.%s: stdio server has no command", name))
			continue
		}
		if srv.Type == "stdio" || srv.Type == "" {
			if _, err := srv.Argv(); err != nil {
				problems = append(problems, fmt.Sprintf("mcp_servers.%s: %v", name, err))
			}
		}
		if (srv.Type == "sse" || srv.Type == "http") && srv.URL == "" {
			problems = append(problems, fmt.Sprintf("mcp_servers.%s: %s server has no url", name, srv.Type))
		}
	}
	if cfg.AutoApprovePermissions.Expr != "" {
		if _, err := policyExprCheck(cfg.AutoApprovePermissions.Expr); err != nil {
			problems = append(problems, fmt.Sprintf("auto_approve_permissions: %v", err))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d MCP server(s), %d allowed CLI tool(s)\n", len(cfg.MCPServers), len(cfg.AllowedCliTools))

	if len(problems) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "config OK")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "problems found:")
	for _, p := range problems {
		fmt.Fprintln(cmd.OutOrStdout(), "  -", p)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}
