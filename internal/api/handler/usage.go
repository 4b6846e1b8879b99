package handler

import (
	"net/http"

	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/api/response"
)

// NewUsageHandler returns the handler for GET /api/v1/usage: the user's
// current rate-limit consumption across every metric and window.
func NewUsageHandler(limiter RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		response.JSON(w, map[string]any{
			"plan":  user.Plan,
			"usage": limiter.Usage(r.Context(), user.ID, user.Plan),
		})
	}
}
