// Package mcp exposes the retrieval API over the Model Context
// Protocol so coding agents can query the index as tools.
package mcp

import (
	"fmt"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// Protocol error codes. Negative custom codes sit below the JSON-RPC
// reserved range.
const (
	ErrCodeStaleIndex = -32001
	ErrCodeNotFound   = -32002
	ErrCodeTimeout    = -32003
	ErrCodeBudget     = -32004

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ProtocolError is the wire shape of a failed tool call: stable code,
// human message, and the remediation hint when one exists.
type ProtocolError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to protocol errors, carrying the
// remediation through so agents can self-correct.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}
	pe := &ProtocolError{Code: ErrCodeInternalError, Message: err.Error()}

	var structured *llmcerr.Error
	if llmcerr.As(err, &structured) {
		pe.Message = structured.Message
		pe.Remediation = structured.Remediation
		switch structured.Code {
		case llmcerr.KindStaleIndex:
			pe.Code = ErrCodeStaleIndex
		case llmcerr.KindNotFound:
			pe.Code = ErrCodeNotFound
		case llmcerr.KindConfigInvalid:
			pe.Code = ErrCodeInvalidParams
		case llmcerr.KindCancelled:
			pe.Code = ErrCodeTimeout
		case llmcerr.KindBudgetExceeded, llmcerr.KindQuotaExhausted:
			pe.Code = ErrCodeBudget
		}
		return pe
	}
	if llmcerr.IsCancelled(err) {
		pe.Code = ErrCodeTimeout
	}
	return pe
}
