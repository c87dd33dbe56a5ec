package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 60 * time.Second

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	r.Route("/geocode", func(r chi.Router) {
		// Long-lived site picker session, kept out of the request timeout
		r.Get("/session", s.HandleGeocodeSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Get("/search", s.HandleGeocodeSearch)
			r.Get("/reverse", s.HandleGeocodeReverse)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(s.operatorMiddleware)

		r.Route("/networks/{network}", func(r chi.Router) {
			r.Get("/sites", s.HandleListSites)
			r.Post("/deployments", s.HandleDeployNew)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.HandleListDevices)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.HandleGetDevice)
					r.Post("/deploy", s.HandleDeploy)
					r.Post("/recall", s.HandleRecall)
					r.Post("/test", s.HandleHealthTest)
					r.Post("/cancel", s.HandleCancel)
					r.Get("/activities", s.HandleListActivities)
				})
			})
		})

		// Stateless form helpers
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/validate", s.HandleValidateWizard)
			r.Post("/height-input", s.HandleHeightInput)
		})
	})
}
