// Package core provides the API chassis for the postwire platform. It owns
// the chi router and enforces cross-cutting concerns -- recovery, request
// deadlines, correlation IDs, structured request logging, CORS, and error
// envelopes -- before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"postwire/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch
// or equivalent backends.
type MetricsCollector interface {
	// RecordRequest records API request metrics including latency and count.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handler routes onto a router. The
// application entry point populates Server.V1RouteRegistrars with one
// registrar per handler package, which avoids an import cycle between core
// and the handler packages.
type RouteRegistrar func(chi.Router)

// Server encapsulates the HTTP-layer dependencies of the postwire API,
// allowing for easy injection during testing and distinct configuration for
// different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handler routes under /v1.
	V1RouteRegistrars []RouteRegistrar

	router     *chi.Mux
	onShutdown []func(context.Context) error
}

// NewServer initializes the chassis and prepares the server for route
// mounting. The caller is responsible for populating V1RouteRegistrars and
// calling MountRoutes after construction; this separation lets tests
// customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterOnShutdown appends fn to the list of hooks run by Shutdown, in
// registration order. Typical hooks close database pools or flush metrics.
func (s *Server) RegisterOnShutdown(fn func(context.Context) error) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown runs all registered shutdown hooks and returns the first error
// encountered. Remaining hooks still run after a failure.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, fn := range s.onShutdown {
		if err := fn(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
