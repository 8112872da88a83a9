// Package api provides the HTTP API server and handlers for the reader.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/ratelimit"
	"github.com/alexandriaapp/alexandria-server/internal/search"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store      *store.Store
	services   *Services
	index      *search.SearchIndex
	sseManager *sse.Manager
	sseHandler *sse.Handler
	limiter    *ratelimit.KeyedRateLimiter
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured. index may be nil when search
// is disabled.
func NewServer(
	st *store.Store,
	services *Services,
	index *search.SearchIndex,
	sseManager *sse.Manager,
	cfg config.ServerConfig,
	logger *slog.Logger,
) *Server {
	router := chi.NewRouter()

	s := &Server{
		store:      st,
		services:   services,
		index:      index,
		sseManager: sseManager,
		sseHandler: sse.NewHandler(sseManager, logger),
		router:     router,
		logger:     logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = ratelimit.New(cfg.RateLimit, max(cfg.RateBurst, 1))
	}

	s.setupMiddleware(cfg)

	humaConfig := huma.DefaultConfig("Alexandria Reader API", "1.0.0")
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases the rate limiter.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(cfg config.ServerConfig) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match", ReaderHeader},
		ExposedHeaders:   []string{"ETag", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter, s.logger))
	}
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerBookRoutes()
	s.registerCoverRoutes()
	s.registerAnnotationRoutes()
	s.registerSearchRoutes()
	s.registerProgressRoutes()
	s.registerFavoriteRoutes()
	s.registerSessionRoutes()
	s.registerThemeRoutes()
	s.registerLibraryRoutes()

	// The event stream bypasses huma: it writes frames as they arrive.
	s.router.Get("/api/v1/books/{bookKey}/events", s.sseHandler.ServeHTTP)
}
