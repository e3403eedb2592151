package service

import (
	"context"
	"strings"

	"github.com/zixofranic/property-sync/internal/model"
	"go.uber.org/zap"
)

// PropertyLookup is the read side the duplicate detector needs.
type PropertyLookup interface {
	FindBySourceURL(ctx context.Context, ownerID, collectionID, sourceURL string) (id string, found bool, err error)
	FindByAddress(ctx context.Context, ownerID, collectionID, normalized string) (id string, found bool, err error)
}

// DuplicateMatch describes an existing property that collides with a
// candidate import. The caller decides what to do with the match.
type DuplicateMatch struct {
	PropertyID string
	Reason     string
}

// DuplicateDetector finds properties already in the destination
// collection, by exact source URL first and normalized address second.
type DuplicateDetector struct {
	lookup PropertyLookup
	log    *zap.Logger
}

// NewDuplicateDetector creates a detector over the given lookup.
func NewDuplicateDetector(lookup PropertyLookup, log *zap.Logger) *DuplicateDetector {
	if log == nil {
		log = zap.NewNop()
	}
	return &DuplicateDetector{lookup: lookup, log: log.Named("dedup")}
}

// Check looks for an existing property matching p within the owner's
// collection. A nil return means no duplicate.
func (d *DuplicateDetector) Check(ctx context.Context, ownerID, collectionID string, p *model.ParsedProperty) (*DuplicateMatch, error) {
	if p.SourceURL != "" {
		id, found, err := d.lookup.FindBySourceURL(ctx, ownerID, collectionID, p.SourceURL)
		if err != nil {
			return nil, err
		}
		if found {
			d.log.Debug("duplicate by source url",
				zap.String("url", p.SourceURL), zap.String("existing", id))
			return &DuplicateMatch{PropertyID: id, Reason: "same source URL already in collection"}, nil
		}
	}

	normalized := NormalizeAddress(p.Address.Full)
	if normalized == "" {
		return nil, nil
	}
	id, found, err := d.lookup.FindByAddress(ctx, ownerID, collectionID, normalized)
	if err != nil {
		return nil, err
	}
	if found {
		d.log.Debug("duplicate by address",
			zap.String("address", normalized), zap.String("existing", id))
		return &DuplicateMatch{PropertyID: id, Reason: "same address already in collection"}, nil
	}
	return nil, nil
}

// Address tokens that abbreviate to a canonical short form so
// "123 Main Street" and "123 Main St." compare equal.
var addressAbbrev = map[string]string{
	"street": "st", "st": "st",
	"avenue": "ave", "ave": "ave", "av": "ave",
	"boulevard": "blvd", "blvd": "blvd",
	"drive": "dr", "dr": "dr",
	"lane": "ln", "ln": "ln",
	"road": "rd", "rd": "rd",
	"court": "ct", "ct": "ct",
	"circle": "cir", "cir": "cir",
	"place": "pl", "pl": "pl",
	"terrace": "ter", "ter": "ter",
	"parkway": "pkwy", "pkwy": "pkwy",
	"highway": "hwy", "hwy": "hwy",
	"trail": "trl", "trl": "trl",
	"square": "sq", "sq": "sq",
	"north": "n", "n": "n",
	"south": "s", "s": "s",
	"east": "e", "e": "e",
	"west": "w", "w": "w",
}

// Unit designators and everything after them are dropped: "Apt 4B"
// identifies the same building as the bare street address.
var unitDesignators = map[string]bool{
	"apt": true, "apartment": true, "unit": true, "ste": true, "suite": true, "fl": true, "floor": true,
}

// NormalizeAddress reduces an address line to a comparable key:
// lowercase, punctuation stripped, suffixes abbreviated, unit dropped.
func NormalizeAddress(full string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(full) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if unitDesignators[tok] {
			i++ // swallow the unit number too
			continue
		}
		if short, ok := addressAbbrev[tok]; ok {
			tok = short
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}
