package parser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/zixofranic/property-sync/internal/model"
	"go.uber.org/zap"
)

const realtorDefaultGap = 2500 * time.Millisecond

// Detail pages look like
// /realestateandhomes-detail/123-Main-St_Dallas_TX_75201_M12345-67890:
// underscore-separated address parts with an M-prefixed property id.
var realtorDetailRe = regexp.MustCompile(`^/realestateandhomes-detail/([^/]+)$`)

// Realtor parses realtor.com listing pages.
type Realtor struct {
	fetcher  HTMLFetcher
	renderer PageRenderer
	log      *zap.Logger
	gate     *throttle
}

func NewRealtor(deps SiteDeps) *Realtor {
	return &Realtor{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		log:      deps.logger("realtor"),
		gate:     newThrottle(deps.gap(realtorDefaultGap)),
	}
}

func (rl *Realtor) Source() model.ListingSource { return model.SourceRealtor }

func (rl *Realtor) CanHandle(rawURL string) bool {
	return Detect(rawURL) == model.SourceRealtor
}

func (rl *Realtor) Confidence(rawURL string) float64 {
	if Detect(rawURL) != model.SourceRealtor {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	path := u.EscapedPath()
	switch {
	case realtorDetailRe.MatchString(path):
		return 0.95
	case strings.HasPrefix(path, "/realestateandhomes-search/"):
		return 0.55
	default:
		return 0.3
	}
}

func (rl *Realtor) ExtractAddressFromURL(rawURL string) (URLAddress, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return URLAddress{}, fmt.Errorf("parse url: %w", err)
	}
	m := realtorDetailRe.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return URLAddress{}, ErrUnparseableURL
	}

	segments := strings.Split(m[1], "_")
	var addr URLAddress
	if last := segments[len(segments)-1]; strings.HasPrefix(last, "M") {
		addr.SourceID = last
		segments = segments[:len(segments)-1]
	}
	// Tail order is fixed: street, city, state, zip.
	if n := len(segments); n > 0 && zipRe.MatchString(segments[n-1]) {
		addr.Zip = segments[n-1]
		segments = segments[:n-1]
	}
	if n := len(segments); n > 0 && stateRe.MatchString(segments[n-1]) {
		addr.State = strings.ToUpper(segments[n-1])
		segments = segments[:n-1]
	}
	if n := len(segments); n > 1 {
		addr.City = strings.ReplaceAll(segments[n-1], "-", " ")
		segments = segments[:n-1]
	}
	if len(segments) > 0 {
		street := splitAddressSlug(segments[0])
		addr.Street = street.Street
		if addr.Street == "" {
			addr.Street = strings.ReplaceAll(segments[0], "-", " ")
		}
	}
	if addr.Street == "" && addr.SourceID == "" {
		return URLAddress{}, ErrUnparseableURL
	}
	return addr, nil
}

func (rl *Realtor) QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := rl.gate.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := rl.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p := rl.baseline(rawURL)
	rl.extractSummary(doc, p)
	p.IsFullyParsed = false
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (rl *Realtor) Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := rl.gate.Wait(ctx); err != nil {
		return nil, err
	}
	html, status, err := rl.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}
	doc, err := documentFromHTML(rawURL, html, status)
	if err != nil {
		return nil, err
	}
	p := rl.baseline(rawURL)
	rl.extractSummary(doc, p)
	rl.extractFacts(doc, p)
	p.IsFullyParsed = p.Address.Street != "" && p.Pricing.NumericPrice > 0
	if !p.IsFullyParsed {
		p.AddWarning("realtor: core fields missing after full render")
		rl.log.Warn("partial extraction", zap.String("url", rawURL), zap.Strings("warnings", p.Warnings()))
	}
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (rl *Realtor) baseline(rawURL string) *model.ParsedProperty {
	addr, err := rl.ExtractAddressFromURL(rawURL)
	if err != nil {
		addr = URLAddress{}
	}
	return PlaceholderProperty(model.SourceRealtor, rawURL, addr)
}

func (rl *Realtor) extractSummary(doc *goquery.Document, p *model.ParsedProperty) {
	if line := firstText(doc, `[data-testid="address"]`, `h1[data-testid="address-line"]`, `h1`); line != "" {
		if addr, ok := splitAddressLine(line); ok {
			p.Address = addr
		}
	}
	if p.Address.Street == "" {
		if ld := harvestJSONLD(doc); ld != nil && ld.Street != "" {
			p.Address.Street = ld.Street
			p.Address.City = ld.City
			p.Address.State = ld.State
			p.Address.Zip = ld.Zip
			p.Address.Full = model.ComposeFullAddress(ld.Street, ld.City, ld.State, ld.Zip)
		}
	}

	if price := firstText(doc, `[data-testid="list-price"]`, `[data-testid="price"]`); price != "" {
		if v := parseMoney(price); v > 0 {
			p.Pricing.NumericPrice = v
			p.Pricing.DisplayPrice = price
		}
	}

	doc.Find(`[data-testid="property-meta-beds"], [data-testid="property-meta-baths"], [data-testid="property-meta-sqft"], [data-testid="property-meta-lot-size"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-testid")
		value := s.Find(`[data-testid="meta-value"]`).Text()
		if value == "" {
			value = s.Text()
		}
		switch id {
		case "property-meta-beds":
			p.Details.Beds = parseLooseInt(value)
		case "property-meta-baths":
			p.Details.Baths = parseLooseFloat(value)
		case "property-meta-sqft":
			p.Details.Sqft = parseLooseInt(value)
		case "property-meta-lot-size":
			p.Details.LotSize = parseLooseFloat(value)
		}
	})

	if og := metaContent(doc, "og:image"); og != "" {
		p.Images = append(p.Images, model.PropertyImage{URL: og})
	}
}

func (rl *Realtor) extractFacts(doc *goquery.Document, p *model.ParsedProperty) {
	doc.Find(`[data-testid="key-facts"] li, ul[data-testid="property-details-list"] li`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "year built"):
			p.Details.YearBuilt = parseLooseInt(text)
		case strings.Contains(lower, "property type"):
			p.Details.PropertyType = trimLabel(text)
		case strings.Contains(lower, "status"):
			p.Listing.Status = trimLabel(text)
		case strings.Contains(lower, "price per sqft"):
			p.Pricing.PricePerSqft = parseLooseFloat(text)
		}
	})

	if status := firstText(doc, `[data-testid="listing-status"]`); status != "" {
		p.Listing.Status = status
	}
	if mls := firstText(doc, `[data-testid="mls-number"]`); mls != "" {
		p.Listing.MLSNumber = strings.TrimSpace(strings.TrimLeft(mls, "MLS#: "))
	}
	if agent := firstText(doc, `[data-testid="listing-agent-name"]`, `.agent-name`); agent != "" {
		p.Listing.AgentName = agent
	}
	if office := firstText(doc, `[data-testid="listing-office-name"]`, `.broker-name`); office != "" {
		p.Listing.OfficeName = office
	}

	seen := map[string]bool{}
	for _, img := range p.Images {
		seen[img.URL] = true
	}
	doc.Find(`[data-testid="gallery"] img, .carousel img`).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		p.Images = append(p.Images, model.PropertyImage{URL: src, Caption: s.AttrOr("alt", "")})
	})
}

func trimLabel(text string) string {
	if idx := strings.IndexAny(text, ":"); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}
