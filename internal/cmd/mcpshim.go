package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xcbridge/xcbridge/internal/mcpshim"
)

var mcpShimBaseURL string

func newMCPShimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-shim",
		Short: "Run the MCP passthrough shim over stdio (launched by the session library)",
		Long: `mcp-shim speaks MCP's stdio JSON-RPC protocol on stdin/stdout, the
shape the session library expects of an MCP server it launches as a child
process, forwarding every tools/list and tools/call request over HTTP to a
running "xcbridge serve" instance.`,
		RunE: runMCPShim,
	}
	cmd.Flags().StringVar(&mcpShimBaseURL, "bridge-url", "", "base URL of the running bridge (default: http://127.0.0.1:$MCP_SERVER_PORT, or :4040)")
	return cmd
}

func runMCPShim(cmd *cobra.Command, args []string) error {
	baseURL := mcpShimBaseURL
	if baseURL == "" {
		port := os.Getenv("MCP_SERVER_PORT")
		if port == "" {
			port = "4040"
		}
		baseURL = "http://127.0.0.1:" + port
	}

	s := mcpshim.New(os.Stdin, os.Stdout, baseURL, mcpshim.DefaultHTTPClient(), nil)
	return s.Run(cmd.Context())
}
