package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Get("/messages", s.getMessages)
		r.Get("/tree", s.getTree)
		r.Get("/list", s.listSessions)
		r.Post("/new", s.newSession)
		r.Post("/switch", s.switchSession)

		r.Post("/prompt", s.prompt)
		r.Post("/steer", s.steer)
		r.Post("/follow-up", s.followUp)
		r.Post("/abort", s.abort)
		r.Post("/compact", s.compact)

		r.Post("/label", s.label)
		r.Post("/branch", s.branch)
		r.Post("/navigate", s.navigate)
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)

	r.Get("/config", s.getConfig)
	r.Get("/model", s.listModels)
	r.Get("/tool", s.listTools)
	r.Get("/mcp", s.getMCPStatus)
	r.Get("/command", s.listCommands)
	r.Get("/vcs", s.getVCS)

	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics.Handler())
	}
}
