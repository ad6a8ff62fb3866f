package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/connection", s.handleConnection)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/boards/{mac}", func(r chi.Router) {
			r.Get("/events", s.handleListBoardEvents)
			r.Get("/readings", s.handleLatestReadings)

			// Commands reach real hardware.
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/timesync", s.handleTimeSync)
				r.Post("/actuation", s.handleActuation)
			})
		})
	})

	return r
}
