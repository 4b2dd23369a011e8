package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riotcore/riot/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Ungated
		r.Get("/healthz", s.handleHealth)

		r.Route("/users", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/send_verification", s.handleSendVerification)
			r.Get("/verify", s.handleVerify)

			// Session probe: works with or without identity.
			r.Group(func(r chi.Router) {
				r.Use(s.optionalAuth(auth.PrivilegeEveryone))
				r.Get("/me", s.handleMe)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth(auth.PrivilegeNormal))
				r.Patch("/me", s.handleUpdateMe)
			})
		})

		// System stats: readable by any authenticated account.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth(auth.PrivilegeViewer))
			r.Get("/system", s.handleSystem)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth(auth.PrivilegeNormal))

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Get("/records", s.handleListRecords)
					r.Post("/records", s.handleInsertRecord)
				})
			})

			r.Route("/tags", func(r chi.Router) {
				r.Get("/", s.handleListTags)
				r.Post("/", s.handleCreateTag)

				r.Route("/{id}", func(r chi.Router) {
					r.Patch("/", s.handleUpdateTag)
					r.Delete("/", s.handleDeleteTag)
					r.Get("/devices", s.handleTaggedDevices)
					r.Put("/devices/{deviceID}", s.handleTagDevice)
					r.Delete("/devices/{deviceID}", s.handleUntagDevice)
				})
			})

			r.Get("/stream", s.handleStream)
		})
	})

	return r
}
