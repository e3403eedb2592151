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

const redfinDefaultGap = 2 * time.Second

// Detail pages look like /TX/Dallas/123-Main-St-75201/home/12345678.
var redfinDetailRe = regexp.MustCompile(`^/([A-Z]{2})/([^/]+)/([^/]+)/home/(\d+)/?$`)

// Redfin parses redfin.com listing pages.
type Redfin struct {
	fetcher  HTMLFetcher
	renderer PageRenderer
	log      *zap.Logger
	gate     *throttle
}

func NewRedfin(deps SiteDeps) *Redfin {
	return &Redfin{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		log:      deps.logger("redfin"),
		gate:     newThrottle(deps.gap(redfinDefaultGap)),
	}
}

func (rf *Redfin) Source() model.ListingSource { return model.SourceRedfin }

func (rf *Redfin) CanHandle(rawURL string) bool {
	return Detect(rawURL) == model.SourceRedfin
}

func (rf *Redfin) Confidence(rawURL string) float64 {
	if Detect(rawURL) != model.SourceRedfin {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	path := u.EscapedPath()
	switch {
	case redfinDetailRe.MatchString(path):
		return 0.95
	case strings.Contains(path, "/city/") || strings.Contains(path, "/zipcode/"):
		return 0.55
	default:
		return 0.3
	}
}

func (rf *Redfin) ExtractAddressFromURL(rawURL string) (URLAddress, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return URLAddress{}, fmt.Errorf("parse url: %w", err)
	}
	m := redfinDetailRe.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return URLAddress{}, ErrUnparseableURL
	}
	// Street segment carries its own zip tail: 123-Main-St-75201.
	addr := splitAddressSlug(m[3])
	addr.State = m[1]
	addr.City = strings.ReplaceAll(m[2], "-", " ")
	addr.SourceID = m[4]
	return addr, nil
}

func (rf *Redfin) QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := rf.gate.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := rf.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p := rf.baseline(rawURL)
	rf.extractHead(doc, p)
	p.IsFullyParsed = false
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (rf *Redfin) Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if err := rf.gate.Wait(ctx); err != nil {
		return nil, err
	}
	html, status, err := rf.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}
	doc, err := documentFromHTML(rawURL, html, status)
	if err != nil {
		return nil, err
	}
	p := rf.baseline(rawURL)
	rf.extractHead(doc, p)
	rf.extractStats(doc, p)
	p.IsFullyParsed = p.Address.Street != "" && p.Pricing.NumericPrice > 0
	if !p.IsFullyParsed {
		p.AddWarning("redfin: core fields missing after full render")
		rf.log.Warn("partial extraction", zap.String("url", rawURL), zap.Strings("warnings", p.Warnings()))
	}
	fillPricePerSqft(p)
	p.Normalize()
	return p, nil
}

func (rf *Redfin) baseline(rawURL string) *model.ParsedProperty {
	addr, err := rf.ExtractAddressFromURL(rawURL)
	if err != nil {
		addr = URLAddress{}
	}
	return PlaceholderProperty(model.SourceRedfin, rawURL, addr)
}

// extractHead reads the address banner and price. Redfin splits the
// address across two nodes and mirrors both into og:title.
func (rf *Redfin) extractHead(doc *goquery.Document, p *model.ParsedProperty) {
	street := firstText(doc, `h1 .street-address`, `.street-address`)
	cityLine := firstText(doc, `h1 .bp-cityStateZip`, `.citystatezip`)
	if street != "" && cityLine != "" {
		if addr, ok := splitAddressLine(street + ", " + strings.TrimSpace(cityLine)); ok {
			p.Address = addr
		} else {
			p.Address.Street = strings.TrimRight(street, ",")
			p.Address.Full = street + " " + cityLine
		}
	} else if title := metaContent(doc, "og:title"); title != "" {
		if idx := strings.Index(title, "|"); idx > 0 {
			title = title[:idx]
		}
		if addr, ok := splitAddressLine(strings.TrimSpace(title)); ok {
			p.Address = addr
		}
	}

	if price := firstText(doc, `div[data-rf-test-id="abp-price"] .statsValue`, `.price-section .statsValue`); price != "" {
		if v := parseMoney(price); v > 0 {
			p.Pricing.NumericPrice = v
			p.Pricing.DisplayPrice = price
		}
	}
	if p.Pricing.NumericPrice == 0 {
		if ld := harvestJSONLD(doc); ld != nil && ld.Price > 0 {
			p.Pricing.NumericPrice = ld.Price
			p.Pricing.DisplayPrice = "$" + formatThousands(ld.Price)
		}
	}
	if og := metaContent(doc, "og:image"); og != "" {
		p.Images = append(p.Images, model.PropertyImage{URL: og})
	}
}

// extractStats reads the stat banner, key-details table, agent row and
// photo strip from the rendered page.
func (rf *Redfin) extractStats(doc *goquery.Document, p *model.ParsedProperty) {
	doc.Find(`div[data-rf-test-id="abp-beds"], div[data-rf-test-id="abp-baths"], div[data-rf-test-id="abp-sqFt"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-rf-test-id")
		value := s.Find(".statsValue").Text()
		switch id {
		case "abp-beds":
			p.Details.Beds = parseLooseInt(value)
		case "abp-baths":
			p.Details.Baths = parseLooseFloat(value)
		case "abp-sqFt":
			p.Details.Sqft = parseLooseInt(value)
		}
	})

	doc.Find(`.keyDetailsList .keyDetails-row, .KeyDetailsTable .keyDetails-row`).Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(s.Find(".keyDetails-label").Text()))
		value := strings.TrimSpace(s.Find(".keyDetails-value").Text())
		if value == "" {
			// Older markup keeps "Label Value" in one node.
			parts := strings.SplitN(strings.TrimSpace(s.Text()), " ", 2)
			if len(parts) == 2 {
				label, value = strings.ToLower(parts[0]), parts[1]
			}
		}
		switch {
		case strings.Contains(label, "year built"):
			p.Details.YearBuilt = parseLooseInt(value)
		case strings.Contains(label, "lot size"):
			p.Details.LotSize = parseLooseFloat(value)
		case strings.Contains(label, "property type"):
			p.Details.PropertyType = value
		case strings.Contains(label, "status"):
			p.Listing.Status = value
		case strings.Contains(label, "mls#") || label == "mls":
			p.Listing.MLSNumber = value
		case strings.Contains(label, "price/sq.ft"):
			p.Pricing.PricePerSqft = parseLooseFloat(value)
		}
	})

	if agent := firstText(doc, `.agent-basic-details--heading span`, `[data-rf-test-id="agentDisplayName"]`); agent != "" {
		p.Listing.AgentName = strings.TrimPrefix(agent, "Listed by ")
	}
	if office := firstText(doc, `.agent-basic-details--broker span`, `.listingBrokerageName`); office != "" {
		p.Listing.OfficeName = strings.TrimPrefix(office, "• ")
	}

	seen := map[string]bool{}
	for _, img := range p.Images {
		seen[img.URL] = true
	}
	doc.Find(`img.widenPhoto, .InlinePhotoPreview img, .PhotosView img`).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		p.Images = append(p.Images, model.PropertyImage{URL: src, Caption: s.AttrOr("alt", "")})
	})
}
