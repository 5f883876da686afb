package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/query"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/search"
)

func sampleResponse() *query.SearchResponse {
	return &query.SearchResponse{
		Results: []search.Result{
			{SpanHash: "abc", Path: "auth/login.py", Symbol: "check_password",
				StartLine: 1, EndLine: 12, Score: 0.91,
				VectorScore: 0.8, LexicalScore: 0.7, GraphDistance: -1,
				Summary: "Verifies a password against the stored hash."},
			{SpanHash: "def", Path: "auth/session.py",
				StartLine: 4, EndLine: 9, Score: 0.40,
				LexicalScore: 0.4, GraphDistance: -1,
				Snippet: "def refresh(session):\n    pass"},
		},
		Profile:   route.TargetCode,
		Source:    "hybrid",
		Freshness: route.FreshnessReady,
	}
}

func TestSearchTextOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	require.NoError(t, r.Search(sampleResponse()))
	out := buf.String()
	assert.Contains(t, out, "auth/login.py:1-12")
	assert.Contains(t, out, "check_password")
	assert.Contains(t, out, "Verifies a password")
	assert.Contains(t, out, "def refresh(session):")
	assert.Contains(t, out, "source: hybrid, index: code, freshness: ready")
	// Not a terminal, so no ANSI escapes.
	assert.NotContains(t, out, "\x1b[")
}

func TestSearchStaleNote(t *testing.T) {
	var buf bytes.Buffer
	resp := sampleResponse()
	resp.Freshness = route.FreshnessStale

	require.NoError(t, NewRenderer(&buf, false).Search(resp))
	assert.Contains(t, buf.String(), "results may be stale")
}

func TestSearchJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, true).Search(sampleResponse()))

	var decoded struct {
		Results   []search.Result `json:"results"`
		Profile   string          `json:"profile"`
		Source    string          `json:"source"`
		Freshness string          `json:"freshness"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Results, 2)
	assert.Equal(t, "code", decoded.Profile)
	assert.Equal(t, "hybrid", decoded.Source)
	assert.Equal(t, "ready", decoded.Freshness)
}

func TestErrorRenderingCarriesRemediation(t *testing.T) {
	err := llmcerr.New(llmcerr.KindStaleIndex, "index is empty").
		WithRemediation("run llmc index to build it")

	var text bytes.Buffer
	NewRenderer(&text, false).Error(err)
	assert.Contains(t, text.String(), "index is empty")
	assert.Contains(t, text.String(), "run llmc index to build it")

	var jsonBuf bytes.Buffer
	NewRenderer(&jsonBuf, true).Error(err)
	var decoded struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Remediation string `json:"remediation"`
	}
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "stale_index", decoded.Code)
	assert.NotEmpty(t, decoded.Remediation)
}

func TestNoResults(t *testing.T) {
	var buf bytes.Buffer
	resp := &query.SearchResponse{Profile: route.TargetDocs, Freshness: route.FreshnessReady}

	require.NoError(t, NewRenderer(&buf, false).Search(resp))
	assert.Contains(t, buf.String(), "no results")
}
