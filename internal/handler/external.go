package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	appmw "github.com/zixofranic/property-sync/internal/middleware"
	"github.com/zixofranic/property-sync/internal/realty"
)

// ExternalHandler handles /api/v1/external, backed by the structured
// listing data API.
type ExternalHandler struct {
	Client *realty.Client
	Quota  *realty.QuotaManager
}

// Search handles GET /api/v1/external/search.
func (h *ExternalHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	candidates, err := h.Client.SearchByLocation(r.Context(), q.Get("location"), q.Get("state"), limit)
	if err != nil {
		respondExternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(candidates),
		"listings": candidates,
	})
}

// GetListing handles GET /api/v1/external/listings/{listingID}.
func (h *ExternalHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	detail, err := h.Client.GetByID(r.Context(), listingID)
	if err != nil {
		respondExternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing":  detail,
		"property": detail.ToProperty(r.URL.String()),
	})
}

// Autocomplete handles GET /api/v1/external/autocomplete.
func (h *ExternalHandler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.Client.Autocomplete(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondExternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// QuotaStatus handles GET /api/v1/external/quota.
func (h *ExternalHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"breaker": h.Client.BreakerState().String(),
	}
	if h.Quota != nil {
		usage, err := h.Quota.CurrentUsage(r.Context())
		if err != nil {
			appmw.RespondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		resp["quota"] = usage
	}
	writeJSON(w, http.StatusOK, resp)
}

func respondExternalError(w http.ResponseWriter, err error) {
	var ve *realty.ValidationError
	var qe *realty.QuotaExceededError
	switch {
	case errors.As(err, &ve):
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", ve.Error())
	case errors.As(err, &qe):
		appmw.RespondError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", qe.Error())
	case errors.Is(err, realty.ErrCircuitOpen):
		appmw.RespondError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE",
			"external data API is unavailable, try again later")
	case errors.Is(err, realty.ErrNotFound):
		appmw.RespondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		appmw.RespondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
}
