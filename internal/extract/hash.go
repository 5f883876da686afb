package extract

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Canonicalize normalizes span text before hashing: CRLF/CR become LF
// and trailing whitespace is stripped from every line. Indentation is
// preserved; it is significant in several supported languages.
func Canonicalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// SpanHash fingerprints canonicalized span content. Two identical spans
// produce the same hash even across files; line positions never
// participate.
//
// hash = blake2b-128(content_type || 0x00 || language || 0x00 || text)
func SpanHash(contentType ContentType, language, canonicalText string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(canonicalText))
	return hex.EncodeToString(h.Sum(nil))
}

// newSpan builds a span with its hash from raw (pre-canonical) text.
func newSpan(kind SpanKind, symbol string, startLine, endLine int, raw string, ct ContentType, lang string) *Span {
	canonical := Canonicalize(raw)
	return &Span{
		Hash:        SpanHash(ct, lang, canonical),
		Kind:        kind,
		SymbolName:  symbol,
		StartLine:   startLine,
		EndLine:     endLine,
		Content:     canonical,
		ContentType: ct,
		Language:    lang,
	}
}
