package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/zixofranic/property-sync/internal/model"
	"github.com/zixofranic/property-sync/internal/parser"
	"go.uber.org/zap"
)

// fakeSiteParser is registration-only: the sources surface never
// fetches a page.
type fakeSiteParser struct {
	src model.ListingSource
}

func (p *fakeSiteParser) Source() model.ListingSource { return p.src }

func (p *fakeSiteParser) CanHandle(rawURL string) bool {
	return strings.Contains(rawURL, string(p.src))
}

func (p *fakeSiteParser) Confidence(rawURL string) float64 {
	if p.CanHandle(rawURL) {
		return 0.9
	}
	return 0
}

func (p *fakeSiteParser) ExtractAddressFromURL(string) (parser.URLAddress, error) {
	return parser.URLAddress{}, parser.ErrUnparseableURL
}

func (p *fakeSiteParser) QuickParse(context.Context, string) (*model.ParsedProperty, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeSiteParser) Parse(context.Context, string) (*model.ParsedProperty, error) {
	return nil, errors.New("not implemented")
}

func sourcesRouter(t *testing.T, registered ...model.ListingSource) http.Handler {
	t.Helper()
	parsers := make([]parser.Parser, 0, len(registered))
	for _, src := range registered {
		parsers = append(parsers, &fakeSiteParser{src: src})
	}
	factory, err := parser.NewFactory(zap.NewNop(), parsers...)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	h := &SourcesHandler{Factory: factory}

	r := chi.NewRouter()
	r.Get("/api/v1/sources", h.List)
	r.Get("/api/v1/sources/detect", h.Detect)
	return r
}

func TestListSourcesCataloguesEverySite(t *testing.T) {
	router := sourcesRouter(t, model.SourceZillow, model.SourceRedfin)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Sources []struct {
			Source    model.ListingSource `json:"source"`
			Supported bool                `json:"supported"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	catalogue := model.SiteSources()
	if len(resp.Sources) != len(catalogue) {
		t.Fatalf("listed %d sources, want the full catalogue of %d", len(resp.Sources), len(catalogue))
	}
	supported := map[model.ListingSource]bool{}
	for i, entry := range resp.Sources {
		if entry.Source != catalogue[i] {
			t.Errorf("entry %d = %s, want %s", i, entry.Source, catalogue[i])
		}
		supported[entry.Source] = entry.Supported
	}
	if !supported[model.SourceZillow] || !supported[model.SourceRedfin] {
		t.Errorf("registered sources must be supported: %v", supported)
	}
	if supported[model.SourceRealtor] || supported[model.SourceTrulia] {
		t.Errorf("unregistered sources must not be supported: %v", supported)
	}
}

func TestDetectScoresKnownURL(t *testing.T) {
	router := sourcesRouter(t, model.SourceZillow)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sources/detect?url=https://www.zillow.com/homedetails/12-Oak-St-Dallas-TX-75201/123_zpid/", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Source     model.ListingSource `json:"source"`
		Supported  bool                `json:"supported"`
		Confidence float64             `json:"confidence"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Source != model.SourceZillow || !resp.Supported {
		t.Fatalf("unexpected detection %+v", resp)
	}
	if resp.Confidence <= 0 {
		t.Fatalf("confidence = %v, want > 0", resp.Confidence)
	}
}

func TestDetectUnknownURLIsUnsupported(t *testing.T) {
	router := sourcesRouter(t, model.SourceZillow)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sources/detect?url=https://example.com/listing/1", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Source    model.ListingSource `json:"source"`
		Supported bool                `json:"supported"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Supported || resp.Source != model.SourceUnknown {
		t.Fatalf("unexpected detection %+v", resp)
	}
}

func TestDetectRequiresURL(t *testing.T) {
	router := sourcesRouter(t, model.SourceZillow)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources/detect", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if env := decodeError(t, w); env.Error.Code != "INVALID_REQUEST" {
		t.Fatalf("code %q, want INVALID_REQUEST", env.Error.Code)
	}
}
