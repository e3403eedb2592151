package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	appmw "github.com/zixofranic/property-sync/internal/middleware"
	"github.com/zixofranic/property-sync/internal/model"
	"github.com/zixofranic/property-sync/internal/service"
)

// BatchService is the slice of the batch manager the HTTP surface
// needs.
type BatchService interface {
	CreateBatch(ctx context.Context, ownerID, collectionID string, urls []string) (*model.Batch, []model.BatchItem, error)
	CreateInstant(ctx context.Context, batchID string) (*model.Batch, []model.BatchItem, error)
	AddURLs(ctx context.Context, batchID string, urls []string) ([]model.BatchItem, error)
	ParseProgressive(ctx context.Context, batchID string) error
	ParseSequential(ctx context.Context, batchID string) ([]model.BatchItem, *model.ParseSummary, error)
	ImportSelected(ctx context.Context, batchID string, selections []model.ImportSelection) (*model.ImportSummary, []model.ImportResult, error)
	GetBatchStatus(ctx context.Context, batchID string) (*model.Batch, []model.BatchItem, error)
	DeleteBatch(ctx context.Context, batchID string) error
}

// BatchesHandler handles /api/v1/batches.
type BatchesHandler struct {
	Manager BatchService
}

type createBatchRequest struct {
	OwnerID      string   `json:"ownerId"`
	CollectionID string   `json:"collectionId"`
	URLs         []string `json:"urls"`
}

// URLs may be empty; an unseeded batch gets its items via AddURLs.
func (req *createBatchRequest) valid() (string, bool) {
	if req.OwnerID == "" {
		return "ownerId is required", false
	}
	if req.CollectionID == "" {
		return "collectionId is required", false
	}
	return "", true
}

type batchResponse struct {
	Batch *model.Batch      `json:"batch"`
	Items []model.BatchItem `json:"items"`
}

// CreateBatch handles POST /api/v1/batches.
func (h *BatchesHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		return
	}
	if msg, ok := req.valid(); !ok {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}

	batch, items, err := h.Manager.CreateBatch(r.Context(), req.OwnerID, req.CollectionID, req.URLs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{Batch: batch, Items: items})
}

// CreateInstant handles POST /api/v1/batches/{batchID}/instant.
// Responds once every pending item has its placeholder committed; the
// backfill parse keeps running.
func (h *BatchesHandler) CreateInstant(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, items, err := h.Manager.CreateInstant(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	properties := make([]*model.ParsedProperty, 0, len(items))
	for i := range items {
		if items[i].CommittedEntityID != "" && items[i].ParsedData != nil {
			properties = append(properties, items[i].ParsedData)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":      batch,
		"items":      items,
		"properties": properties,
	})
}

// AddURLs handles POST /api/v1/batches/{batchID}/urls.
func (h *BatchesHandler) AddURLs(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		return
	}

	items, err := h.Manager.AddURLs(r.Context(), batchID, req.URLs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ParseProgressive handles POST /api/v1/batches/{batchID}/parse/progressive.
// Responds once the quick pass is done; the full pass keeps running.
func (h *BatchesHandler) ParseProgressive(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if err := h.Manager.ParseProgressive(r.Context(), batchID); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": true,
		"batchId": batchID,
	})
}

// ParseSequential handles POST /api/v1/batches/{batchID}/parse/sequential.
// Blocks until every item has been walked.
func (h *BatchesHandler) ParseSequential(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	results, summary, err := h.Manager.ParseSequential(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": summary,
	})
}

// Import handles POST /api/v1/batches/{batchID}/import.
func (h *BatchesHandler) Import(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	var req struct {
		Selections []model.ImportSelection `json:"selections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		return
	}
	if len(req.Selections) == 0 {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "selections must not be empty")
		return
	}

	summary, results, err := h.Manager.ImportSelected(r.Context(), batchID, req.Selections)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "results": results})
}

// GetBatch handles GET /api/v1/batches/{batchID}.
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, items, err := h.Manager.GetBatchStatus(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: batch, Items: items})
}

// DeleteBatch handles DELETE /api/v1/batches/{batchID}.
func (h *BatchesHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if err := h.Manager.DeleteBatch(r.Context(), batchID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondServiceError(w http.ResponseWriter, err error) {
	var te *model.TransitionError
	switch {
	case errors.Is(err, service.ErrBatchNotFound), errors.Is(err, service.ErrItemNotFound):
		appmw.RespondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, service.ErrCollectionNotFound):
		appmw.RespondError(w, http.StatusNotFound, "COLLECTION_NOT_FOUND", err.Error())
	case errors.Is(err, service.ErrBatchCompleted):
		appmw.RespondError(w, http.StatusConflict, "BATCH_COMPLETED", err.Error())
	case errors.Is(err, service.ErrJobRunning):
		appmw.RespondError(w, http.StatusConflict, "PARSE_RUNNING", "a parse run is already in progress for this batch")
	case errors.As(err, &te):
		appmw.RespondError(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
	case errors.Is(err, service.ErrNoURLs):
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		appmw.RespondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
