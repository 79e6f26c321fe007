// Package api exposes the batch pipeline over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/auth"
	"github.com/sungwon/mailbatch/internal/ledger"
)

// Deps are the collaborators of the router. Statuses, Ready and Keys are
// optional; without Keys the batch routes are open.
type Deps struct {
	Pipeline    Pipeline
	Registry    *Registry
	Statuses    ledger.Query
	Ready       map[string]Pinger
	Keys        *auth.Keyring
	DefaultFrom string
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(deps Deps, log zerolog.Logger) *chi.Mux {
	if deps.Registry == nil {
		deps.Registry = NewRegistry(0)
	}

	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggerMiddleware(log))
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/batches", func(r chi.Router) {
		r.Use(auth.BearerAuth(deps.Keys))

		r.Post("/", SubmitBatchHandler(deps.Pipeline, deps.Registry, deps.DefaultFrom))
		r.Get("/{id}", GetBatchHandler(deps.Registry))
		r.Get("/{id}/errors", BatchErrorsHandler(deps.Registry))
		r.Get("/{id}/statuses", ListStatusesHandler(deps.Registry, deps.Statuses))
		r.Get("/{id}/pending", PendingHandler(deps.Pipeline))
		r.Post("/{id}/resend", ResendHandler(deps.Pipeline, deps.Registry))
	})

	return r
}
