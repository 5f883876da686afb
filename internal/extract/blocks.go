package extract

import "strings"

// DefaultBlockLines is the block chunker's size cap.
const DefaultBlockLines = 60

// extractBlocks chunks non-code content into blocks of at most
// maxLines, sliding on blank-line boundaries so a block never splits a
// paragraph when a nearby blank line exists.
func extractBlocks(content string, maxLines int) []*Span {
	if maxLines <= 0 {
		maxLines = DefaultBlockLines
	}
	lines := strings.Split(content, "\n")

	var spans []*Span
	start := 0 // 0-indexed
	for start < len(lines) {
		end := start + maxLines
		if end >= len(lines) {
			end = len(lines)
		} else {
			// Prefer the closest blank line at or before the cap.
			cut := -1
			for i := end; i > start; i-- {
				if strings.TrimSpace(lines[i-1]) == "" {
					cut = i
					break
				}
			}
			if cut > start {
				end = cut
			}
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			spans = append(spans, newSpan(SpanKindBlock, "",
				start+1, end, text, ContentTypeText, "text"))
		}
		start = end
	}
	return spans
}
