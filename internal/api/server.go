package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/auth"
	"github.com/sensorfleet/deploy-console/internal/config"
	"github.com/sensorfleet/deploy-console/internal/geocoding"
	"github.com/sensorfleet/deploy-console/internal/lifecycle"
	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/storage"
)

type contextKey string

const operatorKey contextKey = "operator"

// FleetReader serves the cached device and site lists
type FleetReader interface {
	Devices(ctx context.Context, network string) ([]models.Device, error)
	Sites(ctx context.Context, network string) ([]models.Site, error)
}

// RESTServer represents the REST API server
type RESTServer struct {
	config     *config.Config
	controller *lifecycle.Controller
	fleet      FleetReader
	store      storage.Store
	geocoder   geocoding.Geocoder
	auth       *auth.JWTManager
	router     chi.Router
	server     *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, controller *lifecycle.Controller, fleet FleetReader, store storage.Store, geocoder geocoding.Geocoder) *RESTServer {
	s := &RESTServer{
		config:     cfg,
		controller: controller,
		fleet:      fleet,
		store:      store,
		geocoder:   geocoder,
		router:     chi.NewRouter(),
	}
	if cfg.JWT.Secret != "" {
		s.auth = auth.NewJWTManager(&cfg.JWT)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// operatorMiddleware attaches the operator named by a bearer token. Requests
// without a token proceed anonymously.
func (s *RESTServer) operatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		if s.auth == nil {
			s.respondError(w, http.StatusUnauthorized, "token verification is not configured")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, claims.Operator())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorFrom returns the authenticated operator, or nil for anonymous requests
func operatorFrom(ctx context.Context) *models.Operator {
	op, _ := ctx.Value(operatorKey).(*models.Operator)
	return op
}
