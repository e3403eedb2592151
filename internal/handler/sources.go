package handler

import (
	"net/http"

	appmw "github.com/zixofranic/property-sync/internal/middleware"
	"github.com/zixofranic/property-sync/internal/model"
	"github.com/zixofranic/property-sync/internal/parser"
)

// SourcesHandler handles /api/v1/sources.
type SourcesHandler struct {
	Factory *parser.Factory
}

// Detect handles GET /api/v1/sources/detect. Unknown is a normal
// answer, not an error.
func (h *SourcesHandler) Detect(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		appmw.RespondError(w, http.StatusBadRequest, "INVALID_REQUEST", "url parameter is required")
		return
	}

	source := parser.Detect(rawURL)
	resp := map[string]any{
		"url":       rawURL,
		"source":    source,
		"supported": false,
	}
	if p, ok := h.Factory.GetParser(rawURL); ok {
		resp["source"] = p.Source()
		resp["supported"] = true
		resp["confidence"] = p.Confidence(rawURL)
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /api/v1/sources. Every site source is listed;
// supported marks the ones this deployment has a parser for.
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	type sourceEntry struct {
		Source    model.ListingSource `json:"source"`
		Supported bool                `json:"supported"`
	}
	catalogue := model.SiteSources()
	entries := make([]sourceEntry, 0, len(catalogue))
	for _, src := range catalogue {
		_, registered := h.Factory.BySource(src)
		entries = append(entries, sourceEntry{Source: src, Supported: registered})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": entries})
}
