package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/yegors/cdec-series/pkg/logger"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the per-request ID on responses
const RequestIDHeader = "X-Request-ID"

// Router builds the HTTP routes
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(fetcher SeriesFetcher, logger *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(fetcher, logger),
		logger:  logger.Named("api-router"),
	}
}

// Routes returns the configured handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/stations/{station}/sensors/{sensor}", rt.handler.GetSeries)
	})

	rt.logger.Debug("API routes registered")
	return r
}

// requestID tags each request with a uuid, reusing a caller-supplied one
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext returns the request ID stored by the router, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
