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

const truliaDefaultGap = 2 * time.Second

// Detail pages look like /p/tx/dallas/123-main-st-dallas-tx-75201--1234567890
// with a double hyphen before the numeric id. /home/<slug>--<id> also
// appears on shared links.
var truliaDetailRe = regexp.MustCompile(`^/(?:p/[a-z]{2}/[^/]+|home)/(.+?)--(\d+)/?$`)

// Trulia parses trulia.com listing pages.
type Trulia struct {
	fetcher  HTMLFetcher
	renderer PageRenderer
	log      *zap.Logger
	gate     *throttle
}

func NewTrulia(deps SiteDeps) *Trulia {
	return &Trulia{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		log:      deps.logger("trulia"),
		gate:     newThrottle(deps.gap(truliaDefaultGap)),
	}
}

func (tr *Trulia) Source() model.ListingSource { return model.SourceTrulia }

func (tr *Trulia) CanHandle(rawURL string) bool {
	return Detect(rawURL) == model.SourceTrulia
}

func (tr *Trulia) Confidence(rawURL string) float64 {
	if Detect(rawURL) != model.SourceTrulia {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	path := u.EscapedPath()
	switch {
	case truliaDetailRe.MatchString(path):
		return 0.9
	case strings.HasPrefix(path, "/for_sale/") || strings.HasPrefix(path, "/for_rent/"):
		return 0.5
	default:
		return 0.3
	}
}

func (tr *Trulia) ExtractAddressFromURL(rawURL string) (URLAddress, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return URLAddress{}, fmt.Errorf("parse url: %w", err)
	}
	m := truliaDetailRe.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return URLAddress{}, ErrUnparseableURL
	}
	addr := splitAddressSlug(m[1])
	addr.SourceID = m[2]
	return addr, nil
}

func (tr *Trulia) QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := tr.gate.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := tr.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p := tr.baseline(rawURL)
	tr.extractHeadline(doc, p)
	p.IsFullyParsed = false
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (tr *Trulia) Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := tr.gate.Wait(ctx); err != nil {
		return nil, err
	}
	html, status, err := tr.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}
	doc, err := documentFromHTML(rawURL, html, status)
	if err != nil {
		return nil, err
	}
	p := tr.baseline(rawURL)
	tr.extractHeadline(doc, p)
	tr.extractFeatures(doc, p)
	p.IsFullyParsed = p.Address.Street != "" && p.Pricing.NumericPrice > 0
	if !p.IsFullyParsed {
		p.AddWarning("trulia: core fields missing after full render")
		tr.log.Warn("partial extraction", zap.String("url", rawURL), zap.Strings("warnings", p.Warnings()))
	}
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (tr *Trulia) baseline(rawURL string) *model.ParsedProperty {
	addr, err := tr.ExtractAddressFromURL(rawURL)
	if err != nil {
		addr = URLAddress{}
	}
	return PlaceholderProperty(model.SourceTrulia, rawURL, addr)
}

func (tr *Trulia) extractHeadline(doc *goquery.Document, p *model.ParsedProperty) {
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
			p.Pricing.DisplayPrice = "$" + formatThousands(ld.Price)
		}
		for _, img := range ld.Images {
			p.Images = append(p.Images, model.PropertyImage{URL: img})
		}
	}

	if p.Address.Street == "" {
		if line := firstText(doc, `[data-testid="home-details-summary-headline"]`, `h1`); line != "" {
			if addr, ok := splitAddressLine(line); ok {
				p.Address = addr
			}
		}
		if city := firstText(doc, `[data-testid="home-details-summary-city-state"]`); city != "" && p.Address.City == "" {
			if addr, ok := splitAddressLine(p.Address.Street + ", " + city); ok {
				p.Address = addr
			}
		}
	}
	if p.Pricing.NumericPrice == 0 {
		if price := firstText(doc, `[data-testid="on-market-price-details"]`, `h3[data-testid="price"]`); price != "" {
			if v := parseMoney(price); v > 0 {
				p.Pricing.NumericPrice = v
				p.Pricing.DisplayPrice = strings.Fields(price)[0]
			}
		}
	}
	if len(p.Images) == 0 {
		if og := metaContent(doc, "og:image"); og != "" {
			p.Images = append(p.Images, model.PropertyImage{URL: og})
		}
	}

	doc.Find(`[data-testid="facts-summary"] li, ul[data-testid="home-summary"] li`).Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		switch {
		case strings.Contains(text, "bed"):
			p.Details.Beds = parseLooseInt(text)
		case strings.Contains(text, "bath"):
			p.Details.Baths = parseLooseFloat(text)
		case strings.Contains(text, "sqft") || strings.Contains(text, "square"):
			p.Details.Sqft = parseLooseInt(text)
		}
	})
}

func (tr *Trulia) extractFeatures(doc *goquery.Document, p *model.ParsedProperty) {
	doc.Find(`ul[data-testid="home-features"] li, [data-testid="structured-home-details"] li`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		lower := strings.ToLower(text)
		switch {
		case strings.HasPrefix(lower, "year built"):
			p.Details.YearBuilt = parseLooseInt(text)
		case strings.HasPrefix(lower, "lot size"):
			p.Details.LotSize = parseLooseFloat(text)
		case strings.HasPrefix(lower, "property type") || strings.HasPrefix(lower, "home type"):
			p.Details.PropertyType = trimLabel(text)
		case strings.HasPrefix(lower, "mls"):
			p.Listing.MLSNumber = trimLabel(text)
		case strings.HasPrefix(lower, "days on"):
			// age stays in rawExtra, not a first-class field
			if p.RawExtra == nil {
				p.RawExtra = map[string]any{}
			}
			p.RawExtra["daysOnMarket"] = text
		}
	})

	if status := firstText(doc, `[data-testid="home-details-status"]`); status != "" {
		p.Listing.Status = status
	}
	if agent := firstText(doc, `[data-testid="listing-agent"]`, `.listing-agent-name`); agent != "" {
		p.Listing.AgentName = agent
	}

	seen := map[string]bool{}
	for _, img := range p.Images {
		seen[img.URL] = true
	}
	doc.Find(`[data-testid="media-gallery"] img, picture img`).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		p.Images = append(p.Images, model.PropertyImage{URL: src, Caption: s.AttrOr("alt", "")})
	})
}
