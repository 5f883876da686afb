package route

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
)

const decisionCacheSize = 512

// Decision is a routing verdict.
type Decision struct {
	Profile   string     `json:"target_index_profile"`
	StartTier string     `json:"start_tier"`
	Rerank    bool       `json:"rerank"`
	CodeScore float64    `json:"code_score"`
	DocsScore float64    `json:"docs_score"`
	Evidence  []evidence `json:"evidence,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
}

// Router classifies queries. Safe for concurrent use; decisions are
// cached by (query, hint).
type Router struct {
	cls            classifier
	preferCode     bool
	conflictMargin float64
	startTier      string
	rerankEnabled  bool
	cache          *lru.Cache[string, Decision]
}

// NewRouter compiles the classifier from configuration. startTier and
// rerankEnabled come from the enrichment and search sections.
func NewRouter(cfg config.RoutingConfig, startTier string, rerankEnabled bool) (*Router, error) {
	var structRe *regexp.Regexp
	if cfg.CodeStructRegex != "" {
		var err error
		structRe, err = regexp.Compile(cfg.CodeStructRegex)
		if err != nil {
			return nil, llmcerr.Wrap(llmcerr.KindConfigInvalid, "routing.code_struct_regex", err)
		}
	}
	cache, err := lru.New[string, Decision](decisionCacheSize)
	if err != nil {
		return nil, llmcerr.Wrap(llmcerr.KindInternal, "decision cache", err)
	}
	return &Router{
		cls:            classifier{structRe: structRe, erpKeywords: cfg.ERPKeywords},
		preferCode:     cfg.PreferCodeOnConflict,
		conflictMargin: cfg.ConflictMargin,
		startTier:      startTier,
		rerankEnabled:  rerankEnabled,
		cache:          cache,
	}, nil
}

// Route decides for a query. hint is an explicit caller override
// ("code" or "docs", typically from MCP tool context) and wins over
// every signal; anything else is ignored.
func (r *Router) Route(query, hint string) Decision {
	key := hint + "\x00" + query
	if d, ok := r.cache.Get(key); ok {
		d.Cached = true
		return d
	}
	d := r.decide(query, hint)
	r.cache.Add(key, d)
	return d
}

// Explain is Route with the evidence trail retained.
func (r *Router) Explain(query, hint string) Decision {
	return r.decide(query, hint)
}

// StartTierForSpan resolves the cascade tier a pending span starts at.
// Code spans need the configured start tier's capability; markdown and
// plain-text spans summarize fine on the cascade's cheapest tier.
func (r *Router) StartTierForSpan(contentType extract.ContentType) string {
	if contentType == extract.ContentTypeCode {
		return r.startTier
	}
	return ""
}

func (r *Router) decide(query, hint string) Decision {
	code, docs, trail := r.cls.classify(query)
	d := Decision{
		StartTier: r.startTier,
		CodeScore: code,
		DocsScore: docs,
		Evidence:  trail,
	}

	switch hint {
	case TargetCode, TargetDocs:
		d.Profile = hint
		d.Evidence = append(d.Evidence, evidence{
			Signal: "tool_context_override", Target: hint, Weight: 0, Match: hint,
		})
	default:
		switch {
		case code > docs+r.conflictMargin:
			d.Profile = TargetCode
		case docs > code+r.conflictMargin:
			d.Profile = TargetDocs
		case r.preferCode:
			// Scores within the margin: code wins on a draw, a wrong
			// docs answer about code is worse than the reverse.
			d.Profile = TargetCode
		default:
			d.Profile = TargetDocs
		}
	}

	d.Rerank = r.rerankEnabled && complexQuery(query)
	return d
}

// complexQuery flags queries long enough that rerank latency pays off.
func complexQuery(query string) bool {
	return len(strings.Fields(query)) >= 8
}
