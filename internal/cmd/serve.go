package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xcbridge/xcbridge/internal/anthropic"
	"github.com/xcbridge/xcbridge/internal/appdir"
	"github.com/xcbridge/xcbridge/internal/bridgehttp"
	"github.com/xcbridge/xcbridge/internal/config"
	"github.com/xcbridge/xcbridge/internal/convo"
	"github.com/xcbridge/xcbridge/internal/defense"
	"github.com/xcbridge/xcbridge/internal/logging"
	"github.com/xcbridge/xcbridge/internal/mcpserver"
	"github.com/xcbridge/xcbridge/internal/messages"
	"github.com/xcbridge/xcbridge/internal/secrets"
	"github.com/xcbridge/xcbridge/internal/sessionlib/fake"
	"github.com/xcbridge/xcbridge/internal/web"
)

// models is the bridge's fixed model catalog: the identifiers Xcode's
// Messages requests name, and whether each supports a reasoning-effort
// parameter passed through to the session library.
var models = []anthropic.ModelInfo{
	{ID: "claude-opus-4-6", DisplayName: "Claude Opus 4.6", SupportsReasoningEffort: true},
	{ID: "claude-sonnet-4-6", DisplayName: "Claude Sonnet 4.6", SupportsReasoningEffort: true},
	{ID: "claude-haiku-4-6", DisplayName: "Claude Haiku 4.6", SupportsReasoningEffort: false},
}

var (
	servePort      int
	serveWorkdir   string
	serveDebugMCP  bool
	serveDebugPort int
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge's HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().IntVar(&servePort, "port", 0, "listen port (0 picks any free port)")
	cmd.Flags().StringVar(&serveWorkdir, "workdir", "", "working directory handed to the session library (default: current directory)")
	cmd.Flags().BoolVar(&serveDebugMCP, "debug-mcp", true, "start the MCP debug server alongside the bridge")
	cmd.Flags().IntVar(&serveDebugPort, "debug-mcp-port", mcpserver.DefaultPort, "port for the MCP debug server")
	return cmd
}

// configStore holds the live config and implements config.ReloadSubscriber,
// per spec.md §4.5's note that only new conversations pick up a reloaded
// config — existing Conversation States keep the snapshot they were built
// with, since sessioncfg.Build is called fresh on every new-session request
// against whatever configStore.Current returns at that moment.
type configStore struct {
	current atomic.Pointer[config.Config]
}

func newConfigStore(initial *config.Config) *configStore {
	s := &configStore{}
	s.current.Store(initial)
	return s
}

func (s *configStore) Current() *config.Config { return s.current.Load() }

func (s *configStore) OnConfigReloaded(cfg *config.Config) {
	s.current.Store(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Bridge()

	if err := appdir.EnsureDir(); err != nil {
		log.Warn("failed to ensure app directory", "error", err)
	}

	loadResult, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	store := newConfigStore(loadResult.Config)

	var watcher *config.Watcher
	if loadResult.Source == config.SourceCustomFile {
		watcher, err = config.NewWatcher(loadResult.SourcePath, logging.Config_())
		if err != nil {
			log.Warn("config hot-reload disabled", "path", loadResult.SourcePath, "error", err)
		} else {
			watcher.Subscribe(store)
			watcher.Start()
			defer watcher.Close()
		}
	}

	workdir := serveWorkdir
	if workdir == "" {
		workdir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	authToken, err := secrets.Default().Get(secrets.ServiceName, secrets.AccountCopilotToken)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) && !errors.Is(err, secrets.ErrNotSupported) {
		log.Warn("failed to read backend credential from secret store", "error", err)
	}

	listener, err := net.Listen("tcp", serveAddr(servePort))
	if err != nil {
		return err
	}
	boundPort := listener.Addr().(*net.TCPAddr).Port

	manager := convo.NewManager()
	starter := &fake.Starter{}

	guard := defense.New(defense.RateLimit{RequestsPerSecond: 5, Burst: 10}, log)

	// The Xcode-only User-Agent gate (spec.md §6) covers /v1/messages and
	// /v1/models only: the bridge routes below are called by the MCP
	// Passthrough Shim (C8) via a plain http.Client carrying no Xcode/
	// user agent, and the debug viewer is a loopback browser tool.
	v1Mux := http.NewServeMux()
	msgHandler := messages.New(manager, starter, store.Current, models, boundPort, workdir)
	msgHandler.SetAuthToken(authToken)
	msgHandler.Register(v1Mux)

	mux := http.NewServeMux()
	mux.Handle("/v1/", guard.RequireXcodeUserAgent(v1Mux))

	bridgeHandler := bridgehttp.New(manager, log)
	bridgeHandler.Register(mux)

	web.NewDebugViewer(manager, workdir).Register(mux)

	guarded := guard.RateLimitByIP(mux)

	httpSrv := &http.Server{Handler: guarded}

	var debugSrv *mcpserver.Server
	if serveDebugMCP {
		debugSrv, err = mcpserver.NewServer(
			mcpserver.Config{Port: serveDebugPort},
			mcpserver.Dependencies{Manager: manager, Config: store.Current()},
		)
		if err != nil {
			log.Warn("MCP debug server disabled", "error", err)
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := debugSrv.Start(ctx); err != nil {
				log.Warn("MCP debug server failed to start", "error", err)
				debugSrv = nil
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("xcbridge serving", "addr", listener.Addr().String(), "workdir", workdir)
		errCh <- httpSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if debugSrv != nil {
		_ = debugSrv.Stop()
	}
	return httpSrv.Shutdown(shutdownCtx)
}

func serveAddr(port int) string {
	if port <= 0 {
		return "127.0.0.1:0"
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}
