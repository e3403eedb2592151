// Package parser extracts structured listing data from third-party
// real-estate sites. Each supported site gets its own Parser with its
// own URL grammar, selectors and request pacing; the Factory picks the
// right one per URL.
package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/zixofranic/property-sync/internal/model"
	"go.uber.org/zap"
)

// Parser is the per-site extraction capability set.
//
// ExtractAddressFromURL is pure: no network, no clock, no shared state.
// QuickParse does one plain HTTP fetch and fills the cheap fields.
// Parse renders the page in a real browser and extracts everything it
// can. Both parse methods honor the parser's request gate and return a
// placeholder property (with warnings) rather than an error when the
// page shape is unexpected.
type Parser interface {
	Source() model.ListingSource
	CanHandle(rawURL string) bool
	Confidence(rawURL string) float64
	ExtractAddressFromURL(rawURL string) (URLAddress, error)
	QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error)
	Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error)
}

// PageRenderer renders a page through a real browser session. The
// chromedp implementation lives in internal/browser; parsers only see
// this surface so tests can feed canned HTML.
type PageRenderer interface {
	Render(ctx context.Context, rawURL string) (html string, status int, err error)
}

// SiteDeps is what every site parser is built from. MinRequestGap
// spaces that parser's outbound requests; zero means the site default.
type SiteDeps struct {
	Fetcher       HTMLFetcher
	Renderer      PageRenderer
	Log           *zap.Logger
	MinRequestGap time.Duration
}

func (d SiteDeps) logger(name string) *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log.Named(name)
}

func (d SiteDeps) gap(def time.Duration) time.Duration {
	if d.MinRequestGap > 0 {
		return d.MinRequestGap
	}
	return def
}

// URLAddress is what a listing URL alone gives away: enough for an
// instant placeholder, never authoritative.
type URLAddress struct {
	Street   string
	City     string
	State    string
	Zip      string
	SourceID string
}

// Full returns the display line for the URL-derived address.
func (a URLAddress) Full() string {
	return model.ComposeFullAddress(a.Street, a.City, a.State, a.Zip)
}

// BlockedError reports that a site served a bot wall or an outright
// denial instead of the listing.
type BlockedError struct {
	URL    string
	Status int
	Marker string
}

func (e *BlockedError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("blocked by %s (marker %q, status %d)", e.URL, e.Marker, e.Status)
	}
	return fmt.Sprintf("blocked by %s (status %d)", e.URL, e.Status)
}

// ErrUnparseableURL is returned by ExtractAddressFromURL when the URL
// does not match the site's listing grammar at all.
var ErrUnparseableURL = fmt.Errorf("url does not match a known listing pattern")

// PlaceholderProperty builds the minimal property recorded when only
// the URL is available: instant creation, and the fallback when a page
// renders but yields nothing extractable.
func PlaceholderProperty(src model.ListingSource, rawURL string, addr URLAddress) *model.ParsedProperty {
	p := &model.ParsedProperty{
		Source:    src,
		SourceID:  addr.SourceID,
		SourceURL: rawURL,
		Address: model.Address{
			Street: addr.Street,
			City:   addr.City,
			State:  addr.State,
			Zip:    addr.Zip,
			Full:   addr.Full(),
		},
		Images:        []model.PropertyImage{},
		ExtractedAt:   time.Now().UTC(),
		IsFullyParsed: false,
	}
	if p.Address.Full == "" {
		p.Address.Full = rawURL
	}
	return p
}
