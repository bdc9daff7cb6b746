// Command xcbridge-mcp-shim is the standalone MCP Passthrough Shim (C8):
// the session library launches it as a child process and speaks MCP's
// stdio JSON-RPC protocol to it, while every tools/list and tools/call
// request is actually answered by the bridge's own HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xcbridge/xcbridge/internal/mcpshim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "xcbridge-mcp-shim:", err)
		os.Exit(1)
	}
}

func run() error {
	port := os.Getenv("MCP_SERVER_PORT")
	if port == "" {
		port = "4040"
	}
	baseURL := "http://127.0.0.1:" + port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	s := mcpshim.New(os.Stdin, os.Stdout, baseURL, mcpshim.DefaultHTTPClient(), nil)
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
