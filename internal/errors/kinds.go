// Package errors provides structured error handling for LLMC.
//
// Every error that crosses a component boundary carries a Kind, a stable
// machine-readable code used by the CLI, the MCP tools, and the enrichment
// pipeline's failure routing. Kinds classify, wrapping preserves causes.
package errors

// Kind is a stable error classification code.
type Kind string

const (
	// KindConfigInvalid indicates a rejected configuration value.
	KindConfigInvalid Kind = "config_invalid"
	// KindUnsupportedLanguage indicates a file no extractor handles.
	KindUnsupportedLanguage Kind = "unsupported_language"
	// KindParseError indicates the extractor could not parse a file.
	KindParseError Kind = "parse_error"
	// KindStoreBusy indicates the index store is locked by another writer.
	KindStoreBusy Kind = "store_busy"
	// KindStoreCorrupt indicates the index store failed integrity checks.
	KindStoreCorrupt Kind = "store_corrupt"
	// KindMigrationFailed indicates a schema migration did not apply.
	KindMigrationFailed Kind = "migration_failed"
	// KindBackendTimeout indicates an LLM backend request timed out.
	KindBackendTimeout Kind = "backend_timeout"
	// KindBackendHTTP indicates an LLM backend returned an HTTP error.
	KindBackendHTTP Kind = "backend_http"
	// KindBackendParse indicates an unparseable LLM backend response.
	KindBackendParse Kind = "backend_parse"
	// KindQuotaExhausted indicates a provider quota (429) was hit.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindBudgetExceeded indicates a cost ceiling would be exceeded.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindCircuitOpen indicates a backend circuit breaker rejected the call.
	KindCircuitOpen Kind = "circuit_open"
	// KindCancelled indicates cooperative cancellation. Not a failure.
	KindCancelled Kind = "cancelled"
	// KindStaleIndex indicates the index lags the working tree.
	KindStaleIndex Kind = "stale_index"
	// KindOrphanDetected indicates an enrichment without a live span.
	KindOrphanDetected Kind = "orphan_detected"
	// KindNotFound indicates a requested symbol, span, or entity does
	// not exist in the index.
	KindNotFound Kind = "not_found"
	// KindInternal is the fallback for unclassified errors.
	KindInternal Kind = "internal"
)

// Retryable reports whether errors of this kind may succeed on retry
// against the same backend tier.
func (k Kind) Retryable() bool {
	switch k {
	case KindBackendTimeout, KindBackendHTTP, KindBackendParse, KindStoreBusy:
		return true
	default:
		return false
	}
}

// Escalates reports whether errors of this kind should move the request
// to the next tier of the cascade instead of being retried locally.
func (k Kind) Escalates() bool {
	switch k {
	case KindQuotaExhausted, KindBudgetExceeded, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// Fatal reports whether errors of this kind abort the current daemon
// phase and require operator action.
func (k Kind) Fatal() bool {
	switch k {
	case KindStoreCorrupt, KindMigrationFailed, KindConfigInvalid:
		return true
	default:
		return false
	}
}
