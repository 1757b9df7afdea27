// Package api exposes the transfer ledger over HTTP.
package api

import (
	"net/http"

	"github.com/ayo6706/ledger-transfer/internal/api/handler"
	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/api/spec"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Transfers   *service.TransferService
	Accounts    *service.AccountService
	Idempotency *idempotency.Store
	Auth        *middleware.Authenticator
	Health      map[string]handler.Pinger
	Logger      *zap.Logger

	PublicRateLimitRPS int
	AdminRateLimitRPS  int
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PublicRateLimitRPS <= 0 {
		deps.PublicRateLimitRPS = 100
	}
	if deps.AdminRateLimitRPS <= 0 {
		deps.AdminRateLimitRPS = 100
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.deps.Logger))
	r.Use(middleware.LoggingMiddleware(api.deps.Logger))
	r.Use(middleware.MetricsMiddleware)

	transfers := handler.NewTransferHandler(api.deps.Transfers)
	accounts := handler.NewAccountHandler(api.deps.Accounts)
	health := handler.NewHealthHandler(api.deps.Health)

	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.deps.PublicRateLimitRPS))

			r.With(middleware.IdempotencyMiddleware(api.deps.Idempotency, api.deps.Logger)).
				Post("/transfers", transfers.Create)
			r.Get("/transfers/{id}", transfers.Get)
			r.Get("/transfers/reference/{reference}", transfers.GetByReference)

			r.Get("/accounts/{number}", accounts.Get)
			r.Get("/accounts/{number}/transactions", accounts.Transactions)
			r.Get("/accounts/{number}/statistics", accounts.Statistics)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.deps.Auth.Middleware)
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Use(middleware.ActorRateLimiter(api.deps.AdminRateLimitRPS))

			r.Post("/transfers/{id}/reverse", transfers.Reverse)
			r.Post("/accounts", accounts.Open)
		})
	})

	return r
}
