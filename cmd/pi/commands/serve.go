package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/headless"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/internal/metrics"
	"github.com/pi-agent/pi/internal/server"
	"github.com/pi-agent/pi/internal/vcs"
	"github.com/pi-agent/pi/pkg/types"
)

var (
	servePort       int
	serveHostname   string
	serveDir        string
	serveModel      string
	serveContinue   bool
	serveSession    string
	serveNoSession  bool
	serveExtensions []string
	serveNoCORS     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP",
	Long: `Start the agent as an HTTP server.

Prompts, steering and session navigation are plain JSON endpoints; agent
events stream from GET /event as server-sent events and Prometheus metrics
are exposed on GET /metrics. Tool calls are approved automatically.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	f.StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	f.StringVar(&serveDir, "directory", "", "Working directory")
	f.StringVarP(&serveModel, "model", "m", "", "Model as provider/model")
	f.BoolVarP(&serveContinue, "continue", "c", false, "Continue the most recent session")
	f.StringVarP(&serveSession, "session", "s", "", "Session file to open")
	f.BoolVar(&serveNoSession, "no-session", false, "Don't persist sessions")
	f.StringArrayVarP(&serveExtensions, "extension", "e", nil, "Extension to load (repeatable)")
	f.BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}
	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("directory", workDir).Msg("starting pi server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := headless.NewStack(ctx, headless.StackConfig{
		WorkDir:     workDir,
		Model:       serveModel,
		Continue:    serveContinue,
		SessionPath: serveSession,
		NoSave:      serveNoSession,
		Extensions:  serveExtensions,
	})
	if err != nil {
		return err
	}
	defer stack.Close()

	collector := metrics.New()
	detach := collector.Attach(stack.Engine.Bus())
	defer detach()

	watcher, err := config.Watch(ctx, workDir, func(s *types.Settings) {
		stack.Engine.SetSteeringMode(config.QueueMode(s.SteeringMode))
		stack.Engine.SetFollowUpMode(config.QueueMode(s.FollowUpMode))
		log.Info().Msg("settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("settings will not be reloaded")
	} else {
		defer watcher.Stop()
	}

	branches, err := vcs.NewWatcher(workDir, stack.Engine.Bus())
	if err != nil {
		log.Warn().Err(err).Msg("git branch will not be tracked")
	} else if branches != nil {
		branches.Start()
		defer branches.Stop()
	}

	cfg := server.DefaultConfig()
	cfg.Hostname = serveHostname
	cfg.Port = servePort
	cfg.EnableCORS = !serveNoCORS
	cfg.SessionDir = stack.Store.SessionDir()
	if cfg.SessionDir == "" {
		cfg.SessionDir = stack.Paths.SessionDir(workDir)
	}

	srv := server.New(cfg, stack.Engine, server.Deps{
		Settings:  stack.Settings,
		Providers: stack.Providers,
		Tools:     stack.Tools,
		MCPTools:  stack.MCPTools,
		MCP:       stack.MCP,
		Metrics:   collector,
		Templates: stack.Templates,
		VCS:       branches,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stack.Engine.Abort()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}
