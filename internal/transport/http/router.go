package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ballotcore/pkg/platform/middleware/auth"
	"ballotcore/pkg/platform/middleware/metadata"
	"ballotcore/pkg/platform/middleware/requestid"
	"ballotcore/pkg/platform/middleware/requesttime"
)

// AdminRole is the claim value required for administrative endpoints.
const AdminRole = "election_admin"

// NewRouter wires the public API. Every API route requires a caller token;
// administrative routes additionally require the election_admin role.
func NewRouter(h *Handler, verifier *auth.Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", h.handleHealth)
	r.Get("/publickey", h.handlePublicKey)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(verifier.RequireAuth)

		r.Post("/tokens", h.handleIssueToken)
		r.Post("/tokens/validate", h.handleValidateToken)
		r.Post("/votes", h.handleCastVote)
		r.Get("/votes/{handle}/verify", h.handleVerifyVote)
		r.Get("/audit/verify", h.handleVerifyAuditChain)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(AdminRole, h.logger))

			r.Post("/tokens/{tokenID}/invalidate", h.handleInvalidateToken)
			r.Get("/audit/recent", h.handleRecentAuditEntries)
			r.Post("/audit/events", h.handleAppendAuditEvent)
			r.Get("/offline/queue", h.handlePendingOffline)
			r.Post("/offline/queue", h.handleEnqueueOffline)
			r.Post("/offline/replay", h.handleReplayOffline)
		})
	})

	return r
}
