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

const zillowDefaultGap = 2 * time.Second

// Detail pages look like /homedetails/123-Main-St-Dallas-TX-75201/12345678_zpid/.
var zillowDetailRe = regexp.MustCompile(`^/homedetails/(?:([^/]+)/)?(\d+)_zpid/?$`)

// Zillow parses zillow.com listing pages.
type Zillow struct {
	fetcher  HTMLFetcher
	renderer PageRenderer
	log      *zap.Logger
	gate     *throttle
}

func NewZillow(deps SiteDeps) *Zillow {
	return &Zillow{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		log:      deps.logger("zillow"),
		gate:     newThrottle(deps.gap(zillowDefaultGap)),
	}
}

func (z *Zillow) Source() model.ListingSource { return model.SourceZillow }

func (z *Zillow) CanHandle(rawURL string) bool {
	return Detect(rawURL) == model.SourceZillow
}

func (z *Zillow) Confidence(rawURL string) float64 {
	if Detect(rawURL) != model.SourceZillow {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	switch {
	case zillowDetailRe.MatchString(u.EscapedPath()):
		return 0.95
	case strings.HasPrefix(u.EscapedPath(), "/homes/"):
		return 0.6
	default:
		return 0.3
	}
}

func (z *Zillow) ExtractAddressFromURL(rawURL string) (URLAddress, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return URLAddress{}, fmt.Errorf("parse url: %w", err)
	}
	m := zillowDetailRe.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return URLAddress{}, ErrUnparseableURL
	}
	addr := splitAddressSlug(m[1])
	addr.SourceID = m[2]
	return addr, nil
}

func (z *Zillow) QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := z.gate.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := z.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p := z.baseline(rawURL)
	z.extractCore(doc, p)
	p.IsFullyParsed = false
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (z *Zillow) Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := z.gate.Wait(ctx); err != nil {
		return nil, err
	}
	html, status, err := z.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}
	doc, err := documentFromHTML(rawURL, html, status)
	if err != nil {
		return nil, err
	}
	p := z.baseline(rawURL)
	z.extractCore(doc, p)
	z.extractDetail(doc, p)
	p.IsFullyParsed = p.Address.Street != "" && p.Pricing.NumericPrice > 0
	if !p.IsFullyParsed {
		p.AddWarning("zillow: core fields missing after full render")
		z.log.Warn("partial extraction", zap.String("url", rawURL), zap.Strings("warnings", p.Warnings()))
	}
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

// baseline seeds the property from the URL so even a failed extraction
// keeps a presentable address.
func (z *Zillow) baseline(rawURL string) *model.ParsedProperty {
	addr, err := z.ExtractAddressFromURL(rawURL)
	if err != nil {
		addr = URLAddress{}
	}
	return PlaceholderProperty(model.SourceZillow, rawURL, addr)
}

// extractCore covers what Zillow serves without JavaScript: JSON-LD,
// OpenGraph, and the stable header block.
func (z *Zillow) extractCore(doc *goquery.Document, p *model.ParsedProperty) {
	if ld := harvestJSONLD(doc); ld != nil {
		if ld.Street != "" {
			p.Address.Street = ld.Street
			p.Address.City = ld.City
			p.Address.State = ld.State
			p.Address.Zip = ld.Zip
			p.Address.Full = model.ComposeFullAddress(ld.Street, ld.City, ld.State, ld.Zip)
		}
		if ld.Price > 0 {
			p.Pricing.NumericPrice = ld.Price
			p.Pricing.DisplayPrice = fmt.Sprintf("$%s", formatThousands(ld.Price))
		}
		for _, img := range ld.Images {
			p.Images = append(p.Images, model.PropertyImage{URL: img})
		}
	}

	if p.Address.Street == "" {
		if addr, ok := splitAddressLine(firstText(doc, `h1`)); ok {
			p.Address = addr
		}
	}
	if price := firstText(doc, `span[data-testid="price"]`, `[data-testid="home-details-chip"] span`); price != "" {
		if v := parseMoney(price); v > 0 {
			p.Pricing.NumericPrice = v
			p.Pricing.DisplayPrice = price
		}
	}
	if p.Pricing.NumericPrice == 0 {
		if og := metaContent(doc, "product:price:amount"); og != "" {
			p.Pricing.NumericPrice = parseMoney(og)
			p.Pricing.DisplayPrice = "$" + formatThousands(p.Pricing.NumericPrice)
		}
	}
	if len(p.Images) == 0 {
		if og := metaContent(doc, "og:image"); og != "" {
			p.Images = append(p.Images, model.PropertyImage{URL: og})
		}
	}

	// Bed/bath/sqft strip under the price.
	doc.Find(`[data-testid="bed-bath-sqft-fact-container"]`).Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(s.Text())
		switch {
		case strings.Contains(label, "bed"):
			p.Details.Beds = parseLooseInt(label)
		case strings.Contains(label, "bath"):
			p.Details.Baths = parseLooseFloat(label)
		case strings.Contains(label, "sqft"):
			p.Details.Sqft = parseLooseInt(label)
		}
	})
	if p.Details.Beds == nil {
		if strip := firstText(doc, `[data-testid="bed-bath-sqft-text"]`); strip != "" {
			z.parseSummaryStrip(strip, p)
		}
	}
}

// extractDetail covers fields that only exist in the rendered page:
// the facts list, attribution and the photo carousel.
func (z *Zillow) extractDetail(doc *goquery.Document, p *model.ParsedProperty) {
	doc.Find(`[data-testid="facts-list"] li, ul.hdp__sc-details-list li`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		lower := strings.ToLower(text)
		switch {
		case strings.HasPrefix(lower, "year built"):
			p.Details.YearBuilt = parseLooseInt(text)
		case strings.HasPrefix(lower, "lot size") || strings.HasPrefix(lower, "lot:"):
			p.Details.LotSize = parseLooseFloat(text)
		case strings.HasPrefix(lower, "type") || strings.Contains(lower, "home type"):
			if idx := strings.IndexAny(text, ":"); idx >= 0 {
				p.Details.PropertyType = strings.TrimSpace(text[idx+1:])
			}
		}
	})

	if status := firstText(doc, `[data-testid="home-status"]`, `span.hdp__sc-status`); status != "" {
		p.Listing.Status = status
	}
	if agent := firstText(doc, `[data-testid="attribution-agent-name"]`, `span.listing-attribution-agent`); agent != "" {
		p.Listing.AgentName = agent
	}
	if office := firstText(doc, `[data-testid="attribution-broker-name"]`, `span.listing-attribution-broker`); office != "" {
		p.Listing.OfficeName = office
	}
	doc.Find(`[data-testid="attribution-list"] li`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(strings.ToUpper(text), "MLS") {
			if idx := strings.IndexAny(text, "#:"); idx >= 0 {
				p.Listing.MLSNumber = strings.TrimSpace(strings.TrimLeft(text[idx:], "#: "))
			}
		}
	})

	seen := map[string]bool{}
	for _, img := range p.Images {
		seen[img.URL] = true
	}
	doc.Find(`ul[class*="photo"] img, div[data-testid="media-stream"] img`).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		p.Images = append(p.Images, model.PropertyImage{URL: src, Caption: s.AttrOr("alt", "")})
	})
}

// parseSummaryStrip handles the compact "3 bds | 2 ba | 1,772 sqft"
// text Zillow sometimes renders as one node.
func (z *Zillow) parseSummaryStrip(strip string, p *model.ParsedProperty) {
	for _, part := range strings.FieldsFunc(strip, func(r rune) bool { return r == '|' || r == '·' }) {
		lower := strings.ToLower(part)
		switch {
		case strings.Contains(lower, "bd") || strings.Contains(lower, "bed"):
			p.Details.Beds = parseLooseInt(part)
		case strings.Contains(lower, "ba"):
			p.Details.Baths = parseLooseFloat(part)
		case strings.Contains(lower, "sqft"):
			p.Details.Sqft = parseLooseInt(part)
		}
	}
}

func formatThousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	if len(s) <= 3 {
		return s
	}
	var out strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		out.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if out.Len() > 0 {
			out.WriteByte(',')
		}
		out.WriteString(s[i : i+3])
	}
	return out.String()
}
