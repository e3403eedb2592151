package parser

import (
	"fmt"
	"sort"

	"github.com/zixofranic/property-sync/internal/model"
	"go.uber.org/zap"
)

// Factory owns the registered site parsers and picks one per URL.
// Registration happens once at construction; a duplicate source is a
// programming error and fails loudly at startup.
type Factory struct {
	parsers map[model.ListingSource]Parser
	ordered []Parser
	log     *zap.Logger
}

// NewFactory registers the given parsers keyed by their Source.
func NewFactory(log *zap.Logger, parsers ...Parser) (*Factory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Factory{
		parsers: make(map[model.ListingSource]Parser, len(parsers)),
		log:     log.Named("parser-factory"),
	}
	for _, p := range parsers {
		src := p.Source()
		if _, dup := f.parsers[src]; dup {
			return nil, fmt.Errorf("duplicate parser registered for source %q", src)
		}
		f.parsers[src] = p
		f.ordered = append(f.ordered, p)
	}
	// Deterministic scan order for the confidence fallback.
	sort.Slice(f.ordered, func(i, j int) bool {
		return f.ordered[i].Source() < f.ordered[j].Source()
	})
	return f, nil
}

// GetParser resolves the parser for a listing URL. Detection by host
// first; when that misses or the detected parser declines, every
// registered parser is scored and the highest confidence above zero
// wins, ties broken by source name. ok=false is a normal outcome, not
// an error.
func (f *Factory) GetParser(rawURL string) (Parser, bool) {
	if src := Detect(rawURL); src != model.SourceUnknown {
		if p, registered := f.parsers[src]; registered && p.CanHandle(rawURL) {
			f.log.Debug("parser selected",
				zap.String("url", rawURL),
				zap.String("source", string(src)),
				zap.Float64("confidence", p.Confidence(rawURL)),
			)
			return p, true
		}
	}

	var best Parser
	bestScore := 0.0
	for _, p := range f.ordered {
		score := p.Confidence(rawURL)
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		f.log.Debug("no parser for url", zap.String("url", rawURL))
		return nil, false
	}
	f.log.Debug("parser selected by confidence scan",
		zap.String("url", rawURL),
		zap.String("source", string(best.Source())),
		zap.Float64("confidence", bestScore),
	)
	return best, true
}

// BySource returns the parser registered for a source tag.
func (f *Factory) BySource(src model.ListingSource) (Parser, bool) {
	p, ok := f.parsers[src]
	return p, ok
}

// Sources lists the registered sources in stable order.
func (f *Factory) Sources() []model.ListingSource {
	out := make([]model.ListingSource, 0, len(f.ordered))
	for _, p := range f.ordered {
		out = append(out, p.Source())
	}
	return out
}

// Supports reports whether any registered parser would take the URL.
func (f *Factory) Supports(rawURL string) bool {
	_, ok := f.GetParser(rawURL)
	return ok
}
