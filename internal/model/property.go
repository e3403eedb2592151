package model

import (
	"strings"
	"time"
)

// ListingSource identifies which site or feed a listing came from.
type ListingSource string

const (
	SourceZillow      ListingSource = "zillow"
	SourceRedfin      ListingSource = "redfin"
	SourceRealtor     ListingSource = "realtor"
	SourceTrulia      ListingSource = "trulia"
	SourceExternalAPI ListingSource = "external_api"
	SourceUnknown     ListingSource = "unknown"
)

// SiteSources lists the sources backed by a page parser.
func SiteSources() []ListingSource {
	return []ListingSource{SourceZillow, SourceRedfin, SourceRealtor, SourceTrulia}
}

// Address is the location block of a parsed listing.
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
	Full   string `json:"full"`
}

// Pricing holds both the display string and the numeric value so the
// UI never has to re-format what the site showed.
type Pricing struct {
	DisplayPrice string   `json:"displayPrice,omitempty"`
	NumericPrice float64  `json:"numericPrice,omitempty"`
	PricePerSqft *float64 `json:"pricePerSqft,omitempty"`
}

// PropertyImage is a single listing photo.
type PropertyImage struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// PropertyDetails holds the physical attributes of a listing.
type PropertyDetails struct {
	Beds         *int     `json:"beds,omitempty"`
	Baths        *float64 `json:"baths,omitempty"`
	Sqft         *int     `json:"sqft,omitempty"`
	YearBuilt    *int     `json:"yearBuilt,omitempty"`
	LotSize      *float64 `json:"lotSize,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
}

// ListingInfo holds listing metadata from the source site.
type ListingInfo struct {
	MLSNumber  string     `json:"mlsNumber,omitempty"`
	AgentName  string     `json:"agentName,omitempty"`
	OfficeName string     `json:"officeName,omitempty"`
	Status     string     `json:"status,omitempty"`
	ListDate   *time.Time `json:"listDate,omitempty"`
}

// ParsedProperty is the single extraction shape every parser and the
// external feed converge on. Address.Full is always populated, falling
// back to URL-derived text when extraction could not do better.
type ParsedProperty struct {
	Source        ListingSource   `json:"source"`
	SourceID      string          `json:"sourceId,omitempty"`
	SourceURL     string          `json:"sourceUrl"`
	Address       Address         `json:"address"`
	Pricing       Pricing         `json:"pricing"`
	Images        []PropertyImage `json:"images"`
	Details       PropertyDetails `json:"details"`
	Listing       ListingInfo     `json:"listing"`
	RawExtra      map[string]any  `json:"rawExtra,omitempty"`
	ExtractedAt   time.Time       `json:"extractedAt"`
	IsFullyParsed bool            `json:"isFullyParsed"`
}

// Normalize makes the zero-ish parts of a ParsedProperty safe to hand
// to consumers: Images never nil, Address.Full never empty.
func (p *ParsedProperty) Normalize() {
	if p.Images == nil {
		p.Images = []PropertyImage{}
	}
	if p.Address.Full == "" {
		p.Address.Full = ComposeFullAddress(p.Address.Street, p.Address.City, p.Address.State, p.Address.Zip)
	}
	if p.Address.Full == "" {
		p.Address.Full = p.SourceURL
	}
	if p.ExtractedAt.IsZero() {
		p.ExtractedAt = time.Now().UTC()
	}
}

// AddWarning records an extraction diagnostic under rawExtra so partial
// results stay inspectable without failing the parse.
func (p *ParsedProperty) AddWarning(msg string) {
	if p.RawExtra == nil {
		p.RawExtra = map[string]any{}
	}
	warnings, _ := p.RawExtra["parseWarnings"].([]string)
	p.RawExtra["parseWarnings"] = append(warnings, msg)
}

// Warnings returns any extraction diagnostics recorded on the property.
func (p *ParsedProperty) Warnings() []string {
	if p.RawExtra == nil {
		return nil
	}
	warnings, _ := p.RawExtra["parseWarnings"].([]string)
	return warnings
}

// ComposeFullAddress joins the address parts that are present into a
// single display line.
func ComposeFullAddress(street, city, state, zip string) string {
	var parts []string
	if street != "" {
		parts = append(parts, street)
	}
	if city != "" {
		parts = append(parts, city)
	}
	tail := strings.TrimSpace(state + " " + zip)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
