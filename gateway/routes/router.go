// Package routes mounts the HTTP surface of the node: loan lifecycle
// endpoints, oracle round ingestion, the websocket event stream and the
// operational endpoints.
package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"strikelend/gateway/middleware"
	"strikelend/native/loan"
	"strikelend/native/quote"
	"strikelend/oracle"
	"strikelend/storage"
)

// Config wires the router's collaborators.
type Config struct {
	Loans  *loan.Engine
	Quotes *quote.Engine
	Oracle *oracle.Registry
	Store  *storage.Store
	Hub    *Hub

	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

// New builds the gateway handler.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	h := &loanHandlers{
		loans:  cfg.Loans,
		quotes: cfg.Quotes,
		store:  cfg.Store,
		logger: cfg.Logger,
	}
	o := &oracleHandlers{registry: cfg.Oracle}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimiter != nil {
			v1.Use(cfg.RateLimiter.Middleware("v1"))
		}
		if cfg.Authenticator != nil {
			v1.Use(cfg.Authenticator.Middleware())
		}

		v1.Method(http.MethodPost, "/loans",
			middleware.WithIdempotency(cfg.Store, http.HandlerFunc(h.originate)))
		v1.Get("/loans", h.list)
		v1.Route("/loans/{id}", func(lr chi.Router) {
			lr.Get("/", h.get)
			lr.Get("/events", h.events)
			lr.Post("/expire", h.expire)
			lr.Method(http.MethodPost, "/refinance",
				middleware.WithIdempotency(cfg.Store, http.HandlerFunc(h.refinance)))
			lr.Method(http.MethodPost, "/settle",
				middleware.WithIdempotency(cfg.Store, http.HandlerFunc(h.settle)))
			lr.Method(http.MethodPost, "/claims/{party}",
				middleware.WithIdempotency(cfg.Store, http.HandlerFunc(h.claim)))
		})
		v1.Post("/oracle/{feed}/rounds", o.postRound)
		if cfg.Hub != nil {
			v1.Get("/events/ws", cfg.Hub.ServeHTTP)
		}
	})

	return r
}
