package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures the route surface from spec §4.7/§4.8.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	r.Get("/v3/health", s.healthV3)
	r.Get("/v3/metrics", s.metrics)

	r.Route("/v3/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/turns", s.submitTurn)
			r.Post("/cancel", s.cancelTurn)
			r.Post("/permissions/{reqID}", s.resolvePermission)
			r.Get("/events", s.replayEvents)
		})
	})

	r.Route("/v3/background", func(r chi.Router) {
		r.Get("/", s.listBackground)
		r.Post("/start", s.startBackground)
		r.Get("/{id}/status", s.backgroundStatus)
		r.Get("/{id}/output", s.backgroundOutput)
		r.Post("/{id}/kill", s.killBackground)
	})

	r.Get("/v3/sse/events", s.sseEvents)
	r.Get("/v3/ws", s.serveWS)
}
