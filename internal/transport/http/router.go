// Package httptransport assembles the HTTP surface: public account routes,
// JWT-guarded member routes, and shared-token system routes for the payment
// webhook, scheduler, and notary collaborators.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	circlehandler "bharosa/internal/circle/handler"
	loanhandler "bharosa/internal/loan/handler"
	memberhandler "bharosa/internal/member/handler"
	"bharosa/internal/platform/health"
	vouchhandler "bharosa/internal/vouch/handler"
	"bharosa/pkg/platform/middleware/auth"
	"bharosa/pkg/platform/middleware/request"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers carries the per-domain HTTP handlers the router mounts.
type Handlers struct {
	Member *memberhandler.Handler
	Circle *circlehandler.Handler
	Vouch  *vouchhandler.Handler
	Loan   *loanhandler.Handler
	Health *health.Handler
}

// NewRouter wires all endpoints with the shared middleware stack.
func NewRouter(h Handlers, validator auth.TokenValidator, systemToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.ClientIP)
	r.Use(request.Logger(logger))
	r.Use(request.BodyLimit(maxBodyBytes))
	r.Use(request.ContentTypeJSON)
	r.Use(request.LatencyMiddleware(request.NewMetrics()))

	h.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.Member.RegisterPublic(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireMember(validator, logger))
		h.Member.Register(r)
		h.Circle.Register(r)
		h.Vouch.Register(r)
		h.Loan.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSystemToken(systemToken, logger))
		h.Loan.RegisterSystem(r)
	})

	return r
}
