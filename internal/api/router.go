// Package api wires the HTTP surface: router, middleware stack, and route
// table.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	BulkAddChannels http.HandlerFunc
	ListChannels    http.HandlerFunc
	GetChannel      http.HandlerFunc

	SubmitJob http.HandlerFunc
	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc

	UsageHandler   http.HandlerFunc
	CreditsHandler http.HandlerFunc

	ListCredentials  http.HandlerFunc
	CreateCredential http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
	GrantCredits     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/channels:bulk-add", orNotImplemented(deps.BulkAddChannels))
		r.Get("/api/v1/channels", orNotImplemented(deps.ListChannels))
		r.Get("/api/v1/channels/{channelID}", orNotImplemented(deps.GetChannel))

		// Submission kinds are static routes: a {kind} wildcard here would
		// collide with the {jobID} wildcard on the poll route.
		for _, kind := range []string{
			"metadata", "videos", "discovery",
			"batch-metadata", "batch-videos", "batch-discovery", "migrate",
		} {
			r.Post("/api/v1/jobs/"+kind, orNotImplemented(deps.SubmitJob))
		}
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))

		r.Get("/api/v1/usage", orNotImplemented(deps.UsageHandler))
		r.Get("/api/v1/credits", orNotImplemented(deps.CreditsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Get("/api/v1/admin/credentials", orNotImplemented(deps.ListCredentials))
			r.Post("/api/v1/admin/credentials", orNotImplemented(deps.CreateCredential))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))

			r.Post("/api/v1/admin/credits/grant", orNotImplemented(deps.GrantCredits))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
