package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/zixofranic/property-sync/internal/model"
)

// ldListing is the subset of schema.org markup listing sites agree on.
type ldListing struct {
	Name   string
	Street string
	City   string
	State  string
	Zip    string
	Price  float64
	Images []string
}

// harvestJSONLD scans ld+json blocks for the first node that looks
// like a listing (a PostalAddress or a priced offer). Sites wrap these
// in arrays and @graph containers inconsistently, so both are handled.
func harvestJSONLD(doc *goquery.Document) *ldListing {
	var found *ldListing
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		for _, node := range flattenLD(raw) {
			if l := listingFromLD(node); l != nil {
				found = l
				return false
			}
		}
		return true
	})
	return found
}

func flattenLD(raw any) []map[string]any {
	var nodes []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, g := range graph {
				if m, ok := g.(map[string]any); ok {
					nodes = append(nodes, m)
				}
			}
		}
		nodes = append(nodes, v)
	case []any:
		for _, item := range v {
			nodes = append(nodes, flattenLD(item)...)
		}
	}
	return nodes
}

func listingFromLD(node map[string]any) *ldListing {
	addr, _ := node["address"].(map[string]any)
	offers, _ := node["offers"].(map[string]any)
	if addr == nil && offers == nil {
		return nil
	}
	l := &ldListing{}
	l.Name, _ = node["name"].(string)
	if addr != nil {
		l.Street, _ = addr["streetAddress"].(string)
		l.City, _ = addr["addressLocality"].(string)
		l.State, _ = addr["addressRegion"].(string)
		l.Zip, _ = addr["postalCode"].(string)
	}
	if offers != nil {
		l.Price = numberFromLD(offers["price"])
	}
	if l.Price == 0 {
		l.Price = numberFromLD(node["price"])
	}
	switch img := node["image"].(type) {
	case string:
		l.Images = append(l.Images, img)
	case []any:
		for _, i := range img {
			if s, ok := i.(string); ok {
				l.Images = append(l.Images, s)
			}
		}
	}
	if l.Street == "" && l.Price == 0 {
		return nil
	}
	return l
}

func numberFromLD(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		return parseMoney(n)
	}
	return 0
}

// metaContent reads a meta tag by property= or name=.
func metaContent(doc *goquery.Document, key string) string {
	if v, ok := doc.Find(`meta[property="` + key + `"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="` + key + `"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// firstText returns the trimmed text of the first selector that
// matches anything. Selector lists are ordered newest markup first.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if txt := strings.TrimSpace(doc.Find(sel).First().Text()); txt != "" {
			return txt
		}
	}
	return ""
}

var numberRe = regexp.MustCompile(`-?[\d,]+(?:\.\d+)?`)

// parseMoney pulls the numeric value out of price text like
// "$1,250,000" or "From $988K". K/M suffixes are expanded.
func parseMoney(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	rest := s[strings.Index(s, m)+len(m):]
	switch {
	case strings.HasPrefix(rest, "K"), strings.HasPrefix(rest, "k"):
		v *= 1_000
	case strings.HasPrefix(rest, "M"), strings.HasPrefix(rest, "m"):
		v *= 1_000_000
	}
	return v
}

// parseLooseInt reads the first integer out of text like "3 beds" or
// "1,772 sqft". Returns nil when there is none.
func parseLooseInt(s string) *int {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return nil
	}
	n := int(v)
	return &n
}

// parseLooseFloat reads the first number out of text like "2.5 baths".
func parseLooseFloat(s string) *float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

var (
	zipRe   = regexp.MustCompile(`^\d{5}(?:-\d{4})?$`)
	stateRe = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

var streetSuffixes = map[string]bool{
	"st": true, "street": true, "ave": true, "avenue": true, "rd": true,
	"road": true, "dr": true, "drive": true, "ln": true, "lane": true,
	"blvd": true, "boulevard": true, "ct": true, "court": true, "way": true,
	"pl": true, "place": true, "ter": true, "terrace": true, "cir": true,
	"circle": true, "hwy": true, "pkwy": true, "trl": true, "loop": true,
}

// splitAddressSlug parses hyphenated URL slugs like
// "123-Main-St-Dallas-TX-75201" into address parts. Zip and state are
// anchored at the tail; the street/city split keys off the last street
// suffix token and is best effort beyond that.
func splitAddressSlug(slug string) URLAddress {
	var addr URLAddress
	tokens := strings.Split(strings.Trim(slug, "-"), "-")
	clean := tokens[:0]
	for _, tok := range tokens {
		if tok != "" {
			clean = append(clean, tok)
		}
	}
	tokens = clean
	if len(tokens) == 0 {
		return addr
	}

	if zipRe.MatchString(tokens[len(tokens)-1]) {
		addr.Zip = tokens[len(tokens)-1]
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) > 0 && stateRe.MatchString(tokens[len(tokens)-1]) {
		addr.State = strings.ToUpper(tokens[len(tokens)-1])
		tokens = tokens[:len(tokens)-1]
	}

	cut := -1
	for i := len(tokens) - 1; i >= 0; i-- {
		if streetSuffixes[strings.ToLower(tokens[i])] {
			cut = i
			break
		}
	}
	titled := make([]string, len(tokens))
	for i, tok := range tokens {
		titled[i] = titleToken(tok)
	}
	if cut >= 0 && cut < len(tokens)-1 {
		addr.Street = strings.Join(titled[:cut+1], " ")
		addr.City = strings.Join(titled[cut+1:], " ")
	} else {
		addr.Street = strings.Join(titled, " ")
	}
	return addr
}

func titleToken(tok string) string {
	if tok == "" {
		return tok
	}
	if len(tok) == 2 && stateRe.MatchString(tok) {
		return strings.ToUpper(tok)
	}
	r := []rune(strings.ToLower(tok))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

var addrLineRe = regexp.MustCompile(`^(.*?),\s*([^,]+),\s*([A-Za-z]{2})[,\s]+(\d{5}(?:-\d{4})?)$`)

// splitAddressLine parses display text like
// "123 Main St, Dallas, TX 75201" into parts.
func splitAddressLine(line string) (model.Address, bool) {
	line = strings.TrimSpace(line)
	m := addrLineRe.FindStringSubmatch(line)
	if m == nil {
		return model.Address{}, false
	}
	return model.Address{
		Street: strings.TrimSpace(m[1]),
		City:   strings.TrimSpace(m[2]),
		State:  strings.ToUpper(m[3]),
		Zip:    m[4],
		Full:   line,
	}, true
}

// fillPricePerSqft derives price/sqft when both inputs are present and
// the site did not state it.
func fillPricePerSqft(p *model.ParsedProperty) {
	if p.Pricing.PricePerSqft != nil || p.Pricing.NumericPrice <= 0 {
		return
	}
	if p.Details.Sqft == nil || *p.Details.Sqft <= 0 {
		return
	}
	pps := math.Round(p.Pricing.NumericPrice / float64(*p.Details.Sqft))
	p.Pricing.PricePerSqft = &pps
}
