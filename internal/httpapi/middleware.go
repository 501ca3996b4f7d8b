package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

type contextKey string

const clientContextKey = contextKey("client")

// apiKeyAuth verifies the X-API-Key header ("<clientID>:<secret>") against
// the key store and stores the client ID in the request context. This
// gates gateway access only; provider credentials travel separately in the
// Authorization header.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			s.respondErrorTag(w, http.StatusUnauthorized, reasonInvalidClient, "X-API-Key header required")
			return
		}

		id, secret, ok := strings.Cut(key, ":")
		if !ok {
			s.respondErrorTag(w, http.StatusUnauthorized, reasonInvalidClient,
				"X-API-Key must be of the form <clientID>:<secret>")
			return
		}

		if err := s.keys.Verify(r.Context(), id, secret); err != nil {
			s.logger.Warn("rejected api key",
				slog.String("client_id", id),
				slog.String("error", err.Error()),
			)
			s.respondErrorTag(w, http.StatusUnauthorized, reasonInvalidClient, "unknown client or bad secret")

			return
		}

		ctx := context.WithValue(r.Context(), clientContextKey, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientFromContext returns the authenticated client ID, or "".
func clientFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientContextKey).(string); ok {
		return id
	}

	return ""
}

// providerCredentials extracts the opaque upstream token from the
// Authorization header. The token is forwarded verbatim; the gateway never
// inspects it.
func providerCredentials(r *http.Request) provider.Credentials {
	auth := r.Header.Get("Authorization")

	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return provider.Credentials{Token: token}
	}

	return provider.Credentials{Token: auth}
}

// requestLogger logs one line per request with status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// metricsMiddleware records per-route request counts and latencies.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		observeRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
