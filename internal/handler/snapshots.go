package handler

import (
	"net/http"

	appmw "github.com/zixofranic/property-sync/internal/middleware"
	"github.com/zixofranic/property-sync/internal/service"
)

// SnapshotsHandler handles GET /internal/snapshots, listing the page
// snapshots saved during full parses.
type SnapshotsHandler struct {
	Store *service.SnapshotStore
}

// List returns stored snapshots, newest first.
func (h *SnapshotsHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Store.List()
	if err != nil {
		appmw.RespondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(snaps),
		"snapshots": snaps,
	})
}
