// Package rest exposes the assignment API over HTTP.
package rest

import (
	"context"
	"net/http"
	"time"

	"classcast-backend/interfaces/http/rest/handlers"
	"classcast-backend/interfaces/http/rest/middleware"
	apperrors "classcast-backend/pkg/errors"
	"classcast-backend/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether the service's dependencies are usable.
type ReadinessCheck func(ctx context.Context) error

// Router creates and configures the HTTP router
type Router struct {
	assignments *handlers.AssignmentHandler
	collector   *observability.Collector
	errors      *apperrors.ErrorHandler
	ready       ReadinessCheck
	logger      *zap.Logger
}

// NewRouter creates a new router instance. collector and ready may be nil.
func NewRouter(
	assignments *handlers.AssignmentHandler,
	collector *observability.Collector,
	errs *apperrors.ErrorHandler,
	ready ReadinessCheck,
	logger *zap.Logger,
) *Router {
	return &Router{
		assignments: assignments,
		collector:   collector,
		errors:      errs,
		ready:       ready,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errors.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		router.Use(middleware.Metrics(rt.collector))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://*.classcast.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.collector != nil {
		router.Handle("/metrics", rt.collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", rt.assignments.CreateAssignment)
			r.Post("/batch", rt.assignments.BatchCreateAssignments)
			r.Get("/{assignmentID}", rt.assignments.GetAssignment)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	if rt.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.ready(ctx); err != nil {
			rt.errors.Handle(w, r, apperrors.NewUnavailableError("dependencies not ready").WithCause(err))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
