package search

import (
	"context"
	"regexp"
	"strings"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// identifier-looking tokens are graph seed candidates. Dotted names
// included: auth.login seeds better than login alone.
var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+|[A-Za-z_][A-Za-z0-9_]*`)

// seedStopwords are query words that look like identifiers but never
// name symbols worth seeding from.
var seedStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"how": true, "what": true, "where": true, "which": true, "who": true,
	"why": true, "does": true, "do": true, "in": true, "of": true,
	"to": true, "for": true, "and": true, "or": true, "not": true,
	"function": true, "class": true, "method": true, "module": true,
	"calls": true, "call": true, "called": true, "uses": true, "used": true,
	"imports": true, "import": true, "file": true, "code": true,
	"this": true, "that": true, "with": true, "from": true, "when": true,
}

// edgeFilter maps question phrasing onto a relation filter. "who calls
// X" should walk calls edges, not the whole graph.
func edgeFilter(query string) []string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "call"):
		return []string{"calls"}
	case strings.Contains(lower, "import"):
		return []string{"imports"}
	case strings.Contains(lower, "extend"), strings.Contains(lower, "inherit"), strings.Contains(lower, "subclass"):
		return []string{"extends"}
	case strings.Contains(lower, "read"):
		return []string{"reads"}
	case strings.Contains(lower, "write"):
		return []string{"writes"}
	default:
		return nil
	}
}

// graphChannel resolves identifier tokens to graph entities, walks
// their neighborhoods, and scores reachable spans by hop distance.
func (s *Searcher) graphChannel(ctx context.Context, query string, ensure func(string) *candidate) error {
	if s.graphWeight <= 0 {
		return nil
	}
	seeds := s.findSeeds(ctx, query)
	if len(seeds) == 0 {
		return nil
	}

	hops := 1
	if s.hopThreshold > 0 && len(strings.Fields(query)) >= s.hopThreshold {
		hops = 2
	}

	distances, err := s.traverser.GraphDistance(ctx, seeds, hops, edgeFilter(query))
	if err != nil {
		return err
	}
	// Seeds are the subject of the question; they rank at distance 0.
	for _, seed := range seeds {
		distances[seed] = 0
	}
	for entityID, dist := range distances {
		hash, err := s.spanForEntity(ctx, entityID)
		if err != nil {
			if llmcerr.IsCancelled(err) {
				return err
			}
			continue
		}
		if hash == "" {
			continue
		}
		c := ensure(hash)
		if c.graphDst < 0 || dist < c.graphDst {
			c.graphDst = dist
		}
	}
	return nil
}

// findSeeds resolves query tokens to entity IDs, most specific first,
// keeping at most three seeds.
func (s *Searcher) findSeeds(ctx context.Context, query string) []string {
	tokens := identRe.FindAllString(query, -1)
	// Dotted names first: they resolve unambiguously.
	var dotted, plain []string
	for _, tok := range tokens {
		if seedStopwords[strings.ToLower(tok)] || len(tok) < 3 {
			continue
		}
		if strings.Contains(tok, ".") {
			dotted = append(dotted, tok)
		} else {
			plain = append(plain, tok)
		}
	}

	var seeds []string
	seen := make(map[string]bool)
	for _, tok := range append(dotted, plain...) {
		if len(seeds) >= 3 {
			break
		}
		ent, err := s.traverser.FindSymbol(ctx, tok)
		if err != nil || ent == nil {
			continue
		}
		if !seen[ent.ID] {
			seen[ent.ID] = true
			seeds = append(seeds, ent.ID)
		}
	}
	return seeds
}

// spanForEntity maps a symbol entity onto its span hash. Module
// entities carry no span.
func (s *Searcher) spanForEntity(ctx context.Context, entityID string) (string, error) {
	ent, err := s.store.GetEntity(ctx, entityID)
	if err != nil || ent == nil {
		return "", err
	}
	symbol := ent.Metadata["symbol"]
	if symbol == "" {
		return "", nil
	}
	span, err := s.store.SpanForSymbol(ctx, ent.PathRef, symbol)
	if err != nil || span == nil {
		return "", err
	}
	return span.Hash, nil
}
