package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fedgate/fedgate/internal/frontend"
	"github.com/fedgate/fedgate/internal/host"
	"github.com/fedgate/fedgate/internal/saml"
)

// Server assembles the HTTP surface: global middleware, frontend routing,
// the host pages and the SAML protocol endpoints.
type Server struct {
	config    *Config
	frontends *frontend.Collection
	pages     *host.Pages
	protocol  *saml.Service
	router    chi.Router
}

// NewServer creates a new server instance
func NewServer(cfg *Config, frontends *frontend.Collection, pages *host.Pages, protocol *saml.Service) *Server {
	s := &Server{
		config:    cfg,
		frontends: frontends,
		pages:     pages,
		protocol:  protocol,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(300, time.Minute)
	r.Use(rateLimiter.Limit)

	// Frontend selection
	if s.frontends != nil {
		r.Use(frontend.Middleware(s.frontends))
	}

	// Health check
	r.Get("/health", s.handleHealth)

	// Protocol endpoints
	r.Route("/saml", func(r chi.Router) {
		s.protocol.RegisterRoutes(r)
	})

	// Host pages
	s.pages.RegisterRoutes(r)

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: "1.0.0",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
