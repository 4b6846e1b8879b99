package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/api/response"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

// NewListCredentialsHandler returns the handler for GET
// /api/v1/admin/credentials. Secrets never appear in the payload.
func NewListCredentialsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if service == "" {
			service = models.ServiceYouTube
		}

		creds, err := s.ListCredentials(r.Context(), service)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list credentials", nil)
			return
		}
		if creds == nil {
			creds = []*models.Credential{}
		}

		response.JSON(w, creds)
	}
}

// NewCreateCredentialHandler returns the handler for POST
// /api/v1/admin/credentials.
func NewCreateCredentialHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name       string `json:"name"`
			Secret     string `json:"secret"`
			Service    string `json:"service"`
			QuotaLimit int    `json:"quota_limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" || req.Secret == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name and secret are required", nil)
			return
		}
		if req.Service == "" {
			req.Service = models.ServiceYouTube
		}
		if req.QuotaLimit <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "quota_limit must be positive", nil)
			return
		}

		now := time.Now().UTC()
		cred := &models.Credential{
			ID:             uuid.New(),
			Name:           req.Name,
			Secret:         req.Secret,
			Service:        req.Service,
			QuotaLimit:     req.QuotaLimit,
			QuotaResetDate: now,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.CreateCredential(r.Context(), cred); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE",
					"A credential with this name already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to create credential", nil)
			return
		}

		response.Created(w, cred)
	}
}

// NewCreateKeyHandler returns the handler for POST /api/v1/admin/keys. The
// raw key appears in this response only.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string   `json:"user_id"`
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		raw, prefix, hash, err := GenerateAPIKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to generate key", nil)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   hash,
			KeyPrefix: prefix,
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to create key", nil)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"user_id":    key.UserID,
			"name":       key.Name,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns the handler for GET /api/v1/admin/keys?user_id=...
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}

		keys, err := s.ListAPIKeys(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list keys", nil)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}

		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns the handler for DELETE
// /api/v1/admin/keys/{keyID}?user_id=...
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), keyID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to revoke key", nil)
			return
		}

		response.JSON(w, map[string]any{"revoked": keyID})
	}
}

// NewGrantCreditsHandler returns the handler for POST
// /api/v1/admin/credits/grant.
func NewGrantCreditsHandler(ledger CreditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID           string  `json:"user_id"`
			Amount           int     `json:"amount"`
			Type             string  `json:"type"`
			Description      string  `json:"description"`
			PaymentReference *string `json:"payment_reference"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}
		if req.Amount <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "amount must be positive", nil)
			return
		}

		txType := req.Type
		if txType == "" {
			txType = models.TransactionPurchase
		}
		if txType != models.TransactionPurchase && txType != models.TransactionRefund {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type must be purchase or refund", nil)
			return
		}

		description := req.Description
		if description == "" {
			description = "Admin credit grant"
		}

		if err := ledger.Grant(r.Context(), userID, req.Amount, txType, description, req.PaymentReference); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to grant credits", nil)
			return
		}

		response.Created(w, map[string]any{
			"user_id": userID,
			"amount":  req.Amount,
			"type":    txType,
		})
	}
}
