package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(c.requestIdMw)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", headerPrefix + "Fingerprint"},
		MaxAge:         300,
	}))

	r.Get("/ws", c.serveWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(c.requestLoggingMw)

		r.Get("/healthz", c.healthz)
		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", c.createRoom)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", c.getRoom)
				r.With(c.authMw).Patch("/", c.updateRoom)
				r.Get("/participants", c.listParticipants)
				r.Route("/join-requests", func(r chi.Router) {
					r.Post("/", c.requestJoin)
					r.With(c.authMw, c.hostMw).Get("/", c.listJoinRequests)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", c.getJoinRequest)
						r.With(c.authMw, c.hostMw).Post("/approve", c.approveJoinRequest)
						r.With(c.authMw, c.hostMw).Post("/reject", c.rejectJoinRequest)
					})
				})
			})
		})
	})

	return r
}
