// Package route decides where a query goes before retrieval runs: the
// target embedding profile, the enrichment tier to start from, and
// whether reranking is worth the latency. Decisions are cheap signal
// arithmetic, cached per query.
package route

import (
	"regexp"
	"strings"
)

// Target names an index profile a query routes to.
const (
	TargetCode = "code"
	TargetDocs = "docs"
)

// Signal weights. Structural evidence of code outranks vocabulary;
// vocabulary outranks the docs default. The ERP weight stays under
// weightStructure-weightDocsBase so one domain term plus the prose
// default never ties a structural match.
const (
	weightFenced    = 3.0
	weightStructure = 2.0
	weightPathToken = 1.5
	weightCodeWord  = 1.0
	weightERPWord   = 1.25
	weightDocsBase  = 0.5
)

// codeKeywords is vocabulary that marks a question as being about the
// code itself rather than the business domain it implements.
var codeKeywords = []string{
	"function", "class", "method", "struct", "interface", "module",
	"import", "return", "argument", "parameter", "callback",
	"bug", "panic", "traceback", "stack trace", "exception", "nil",
	"refactor", "implement", "compile", "signature", "api", "endpoint",
	"test", "mock", "goroutine", "thread", "query", "schema",
}

type classifier struct {
	structRe    *regexp.Regexp
	erpKeywords []string
}

// evidence is one matched signal, kept for Explain output.
type evidence struct {
	Signal string  `json:"signal"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
	Match  string  `json:"match,omitempty"`
}

var pathTokenRe = regexp.MustCompile(`\b[\w./-]+/[\w.-]+\.\w{1,5}\b`)

// classify scores a query for both targets and returns the evidence
// trail.
func (c *classifier) classify(query string) (codeScore, docsScore float64, trail []evidence) {
	lower := strings.ToLower(query)

	add := func(sig, target string, w float64, match string) {
		if target == TargetCode {
			codeScore += w
		} else {
			docsScore += w
		}
		trail = append(trail, evidence{Signal: sig, Target: target, Weight: w, Match: match})
	}

	if strings.Contains(query, "```") {
		add("fenced_code_block", TargetCode, weightFenced, "```")
	}
	if c.structRe != nil {
		if m := c.structRe.FindString(query); m != "" {
			add("code_structure", TargetCode, weightStructure, m)
		}
	}
	if m := pathTokenRe.FindString(query); m != "" {
		add("path_token", TargetCode, weightPathToken, m)
	}
	for _, kw := range codeKeywords {
		if containsWord(lower, kw) {
			add("code_keyword", TargetCode, weightCodeWord, kw)
		}
	}
	for _, kw := range c.erpKeywords {
		if containsWord(lower, strings.ToLower(kw)) {
			add("domain_keyword", TargetDocs, weightERPWord, kw)
		}
	}

	// Prose default: an unmarked question reads as documentation.
	docsScore += weightDocsBase
	return codeScore, docsScore, trail
}

// containsWord matches kw on word boundaries. Multi-word keywords
// match as substrings.
func containsWord(haystack, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(haystack, kw)
	}
	idx := 0
	for {
		i := strings.Index(haystack[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
