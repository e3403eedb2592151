package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/zixofranic/property-sync/internal/model"
)

// hostRules maps hostnames to sources, first match wins. Subdomains
// (www, m, mobile app hosts) all resolve to the same source.
var hostRules = []struct {
	source model.ListingSource
	host   *regexp.Regexp
}{
	{model.SourceZillow, regexp.MustCompile(`(^|\.)zillow\.com$`)},
	{model.SourceRedfin, regexp.MustCompile(`(^|\.)redfin\.com$`)},
	{model.SourceRealtor, regexp.MustCompile(`(^|\.)realtor\.com$`)},
	{model.SourceTrulia, regexp.MustCompile(`(^|\.)trulia\.com$`)},
}

// Detect maps a listing URL to its source. Malformed input, relative
// URLs and unrecognized hosts all come back SourceUnknown; Detect
// never fails.
func Detect(rawURL string) model.ListingSource {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return model.SourceUnknown
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.SourceUnknown
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return model.SourceUnknown
	}
	for _, rule := range hostRules {
		if rule.host.MatchString(host) {
			return rule.source
		}
	}
	return model.SourceUnknown
}
