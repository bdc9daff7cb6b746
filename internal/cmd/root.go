// Package cmd implements the xcbridge CLI: the bridge's serving process
// (serve), the MCP Passthrough Shim launched as a child process by the
// session library (mcp-shim), a config sanity checker (config validate),
// and a non-interactive tool-bridge tester (tools test).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xcbridge/xcbridge/internal/logging"
)

var (
	configPath    string
	logLevel      string
	debugLogging  bool
	logFile       string
	logComponents []string
)

// NewRootCmd builds the xcbridge root command and all its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xcbridge",
		Short: "A local tool-bridge continuation engine between Xcode and the session library",
		Long: `xcbridge runs a local HTTP proxy that translates between Xcode's
Anthropic-style Messages API and the session library's session/streaming
API, routing tool-call round trips back through Xcode via an MCP shim.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logLevel
			if debugLogging {
				level = "debug"
			}
			return logging.Initialize(logging.Config{
				Level:      level,
				Components: logComponents,
				FileLog:    fileLogConfig(),
			})
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: platform config dir)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&debugLogging, "debug", false, "shorthand for --log-level=debug")
	root.PersistentFlags().StringVar(&logFile, "logfile", "", "write logs to this file in addition to stderr")
	root.PersistentFlags().StringSliceVar(&logComponents, "log-components", nil, "restrict logging to these components (default: all)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPShimCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newToolsCmd())

	return root
}

func fileLogConfig() *logging.FileLogConfig {
	if logFile == "" {
		return nil
	}
	cfg := logging.DefaultFileLogConfig()
	cfg.Path = logFile
	return &cfg
}

// Execute runs the xcbridge CLI, exiting the process with status 1 on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xcbridge:", err)
		os.Exit(1)
	}
}
