package extract

import (
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// extractMarkdown splits a markdown file into one span per contiguous
// heading block. Content before the first heading becomes a preamble
// section.
func extractMarkdown(path string, content string) []*Span {
	lines := strings.Split(content, "\n")

	type section struct {
		title     string
		startLine int // 1-indexed
		endLine   int
	}

	var sections []section
	current := section{title: "(preamble)", startLine: 1}
	inFence := false

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			current.endLine = i
			if current.endLine >= current.startLine {
				sections = append(sections, current)
			}
			current = section{title: m[2], startLine: i + 1}
		}
	}
	current.endLine = len(lines)
	if current.endLine >= current.startLine {
		sections = append(sections, current)
	}

	var spans []*Span
	for _, s := range sections {
		text := strings.Join(lines[s.startLine-1:s.endLine], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		spans = append(spans, newSpan(SpanKindMarkdownSection, s.title,
			s.startLine, s.endLine, text, ContentTypeMarkdown, "markdown"))
	}
	return spans
}
