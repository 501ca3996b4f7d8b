package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/cache"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/config"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/keystore"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// CacheRoutePrefix is the public route under which generated artifacts
// (for example Gmail thread archives) are served. Adapters embed it in
// the contentUri of resources they materialise into the cache.
const CacheRoutePrefix = "/files-api/v3/internal/cache"

// Server carries the wired dependencies for the HTTP surface.
type Server struct {
	cfg      *config.Config
	registry *provider.Registry
	keys     *keystore.Store
	cache    *cache.Manager
	hub      *Hub
	logger   *slog.Logger
}

// NewServer assembles the HTTP surface from its collaborators.
func NewServer(cfg *config.Config, registry *provider.Registry, keys *keystore.Store,
	cacheManager *cache.Manager, hub *Hub, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		keys:     keys,
		cache:    cacheManager,
		hub:      hub,
		logger:   logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.HealthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/files-api/v3", func(r chi.Router) {
		// Client registration is the only route reachable without a key.
		r.Post("/clients", s.RegisterClientHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyAuth)

			r.Delete("/clients/{clientID}", s.RevokeClientHandler)

			r.Get("/providers", s.ProvidersHandler)

			r.Route("/data/{providerID}", func(r chi.Router) {
				r.Get("/{folderPath}", s.ListHandler)
				r.Delete("/{folderPath}", s.DeleteHandler)

				r.Get("/{folderPath}/{fileName}", s.ReadHandler)
				r.Post("/{folderPath}/{fileName}", s.CreateHandler)
				r.Put("/{folderPath}/{fileName}", s.UpdateHandler)
				r.Delete("/{folderPath}/{fileName}", s.DeleteHandler)
			})

			r.Get("/internal/cache/*", s.CacheHandler)

			r.Get("/events", s.EventsHandler)
		})
	})

	return r
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}
