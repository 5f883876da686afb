package backend

import (
	"encoding/json"
	"strings"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// ExtractJSON pulls a JSON value out of a model response. Models wrap
// payloads in code fences or chatter around them; this strips fences
// first, then falls back to the outermost brace/bracket pair.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		// Language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			first := strings.TrimSpace(rest[:nl])
			if first == "json" || first == "" || !strings.ContainsAny(first, "{[") {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", llmcerr.New(llmcerr.KindBackendParse, "no JSON value in response")
	}
	open := text[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", llmcerr.New(llmcerr.KindBackendParse, "unterminated JSON value in response")
}

// DecodeJSON extracts and unmarshals in one step.
func DecodeJSON(text string, v any) error {
	payload, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return llmcerr.Wrap(llmcerr.KindBackendParse, "decode response JSON", err)
	}
	return nil
}
