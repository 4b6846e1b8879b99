package handler

import (
	"net/http"

	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/api/response"
	"github.com/channelintel/channelintel/pkg/models"
)

// NewCreditsHandler returns the handler for GET /api/v1/credits: the current
// balance plus a page of ledger history, newest first.
func NewCreditsHandler(ledger CreditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		balance, err := ledger.Balance(r.Context(), user.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load balance", nil)
			return
		}

		page, limit := pagination(r)
		history, total, err := ledger.History(r.Context(), user.ID, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load credit history", nil)
			return
		}
		if history == nil {
			history = []*models.CreditTransaction{}
		}

		response.Collection(w, map[string]any{
			"balance":      balance,
			"transactions": history,
		}, response.NewMeta(page, limit, total))
	}
}
