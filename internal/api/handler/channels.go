package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/api/response"
	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/ratelimit"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

const maxBulkAdd = 100

var externalIDPattern = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)

// NewBulkAddChannelsHandler returns the handler for POST
// /api/v1/channels:bulk-add. Submitted ids are inserted as manual stubs;
// duplicates are counted as skipped.
func NewBulkAddChannelsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChannelIDs []string `json:"channel_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if len(req.ChannelIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "channel_ids is required", nil)
			return
		}
		if len(req.ChannelIDs) > maxBulkAdd {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Too many channel ids in one request", map[string]any{"max": maxBulkAdd})
			return
		}

		var added, skipped int
		var invalid []string
		for _, externalID := range req.ChannelIDs {
			if !externalIDPattern.MatchString(externalID) {
				invalid = append(invalid, externalID)
				continue
			}

			now := time.Now().UTC()
			created, err := s.CreateChannelStub(r.Context(), &models.Channel{
				ID:        uuid.New(),
				ChannelID: externalID,
				Source:    models.SourceManual,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "Failed to add channels", nil)
				return
			}
			if created {
				added++
			} else {
				skipped++
			}
		}

		response.Created(w, map[string]any{
			"added":   added,
			"skipped": skipped,
			"invalid": invalid,
		})
	}
}

// NewListChannelsHandler returns the handler for GET /api/v1/channels.
// Filters: source, metadata_fetched, page, limit. Listing is a billable
// read: it passes the credit gate at the list_channels cost, charged only
// after the query succeeds.
func NewListChannelsHandler(s store.Store, ledger CreditLedger, limiter RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		cost := models.CreditCost("list_channels")
		denial, err := limiter.Check(r.Context(), user.ID, user.Plan, ratelimit.MetricCredits, int64(cost))
		if err == nil && denial != nil {
			mw.WriteDenial(w, denial)
			return
		}

		page, limit := pagination(r)
		filter := store.ChannelFilter{
			Source: r.URL.Query().Get("source"),
			Page:   page,
			Limit:  limit,
		}
		if v := r.URL.Query().Get("metadata_fetched"); v != "" {
			fetched := v == "true"
			filter.MetadataFetched = &fetched
		}

		channels, total, err := s.ListChannels(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list channels", nil)
			return
		}
		if channels == nil {
			channels = []*models.Channel{}
		}

		if err := ledger.Charge(r.Context(), user.ID, cost, "Channel listing", r.URL.Path); err != nil {
			var insufficient *credits.InsufficientCreditsError
			if errors.As(err, &insufficient) {
				response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
					"Not enough credits for this operation", map[string]any{
						"need": insufficient.Need,
						"have": insufficient.Have,
					})
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to charge credits", nil)
			return
		}
		limiter.Record(r.Context(), user.ID, ratelimit.MetricCredits, int64(cost))

		response.Collection(w, channels, response.NewMeta(page, limit, total))
	}
}

// NewGetChannelHandler returns the handler for GET /api/v1/channels/{channelID}.
// The path segment may be the internal UUID or the external UC... id.
func NewGetChannelHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "channelID")

		var (
			ch  *models.Channel
			err error
		)
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			ch, err = s.GetChannel(r.Context(), id)
		} else {
			ch, err = s.GetChannelByExternalID(r.Context(), raw)
		}

		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Channel not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load channel", nil)
			return
		}

		response.JSON(w, ch)
	}
}
