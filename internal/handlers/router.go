package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// NewRouter configures all routes and middleware
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.NotFoundHandler = http.HandlerFunc(notFound)

	// Every path ends with a catch-all so a method mismatch answers 405
	// instead of falling through to not found.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/match-lost-item", h.MatchLostItemHandler).Methods(http.MethodPost)
	api.HandleFunc("/match-lost-item", methodNotAllowed)
	api.HandleFunc("/lost-items/{id}/matches", h.ListMatchesHandler).Methods(http.MethodGet)
	api.HandleFunc("/lost-items/{id}/matches", methodNotAllowed)
	api.HandleFunc("/matches/{id}", h.UpdateMatchStatusHandler).Methods(http.MethodPatch)
	api.HandleFunc("/matches/{id}", methodNotAllowed)
	api.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", methodNotAllowed)
	api.NotFoundHandler = r.NotFoundHandler

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", methodNotAllowed)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics", methodNotAllowed)

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				writeError(w, http.StatusInternalServerError, "Internal server error", "")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
