package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/command"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/internal/mcp"
	"github.com/pi-agent/pi/internal/metrics"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/internal/vcs"
	"github.com/pi-agent/pi/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Hostname     string
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SessionDir is listed by GET /session/list.
	SessionDir string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Deps are the collaborators the server reads from besides the engine.
// Every field is optional.
type Deps struct {
	Settings  *types.Settings
	Providers *provider.Registry
	Tools     *tool.Registry
	MCPTools  *tool.Registry
	MCP       *mcp.Client
	Metrics   *metrics.Collector
	// Templates expand "/name args" in prompt, steer and follow-up text.
	Templates *command.Set
	VCS       *vcs.Watcher
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	engine    *agent.Engine
	settings  *types.Settings
	providers *provider.Registry
	tools     *tool.Registry
	mcpTools  *tool.Registry
	mcpClient *mcp.Client
	metrics   *metrics.Collector
	templates *command.Set
	vcs       *vcs.Watcher

	log zerolog.Logger
}

// New creates a server for engine.
func New(cfg *Config, engine *agent.Engine, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		engine:    engine,
		settings:  deps.Settings,
		providers: deps.Providers,
		tools:     deps.Tools,
		mcpTools:  deps.MCPTools,
		mcpClient: deps.MCP,
		metrics:   deps.Metrics,
		templates: deps.Templates,
		vcs:       deps.VCS,
		log:       logging.Component("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request and records it in the metrics collector
// under its route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		s.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.log.Info().Str("hostname", s.config.Hostname).Int("port", s.config.Port).Msg("listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
