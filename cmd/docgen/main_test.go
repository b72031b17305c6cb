package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annotated = `package api

// @Title: Approve Transaction
// @Route: POST /api/transactions/{id}/approve
// @Description: Record an approval
// @Request: {"voter": "0x..."}
// @Response: 200 Transaction object
func approve() {}

// @Title: Incomplete
// @Description: no route, skipped
// @Response: nothing
func incomplete() {}

// @Title: Transaction Count
// @Route: GET /api/transactions/count
// @Description: Number of transactions
// @Response: {"count": 1}
func count() {}
`

func TestParseEndpoints(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handlers.go"), []byte(annotated), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handlers_test.go"), []byte(annotated), 0o644))

	eps, err := parseEndpoints(dir)
	require.NoError(t, err)
	require.Len(t, eps, 2)

	assert.Equal(t, "GET", eps[0].Method())
	assert.Equal(t, "/api/transactions/count", eps[0].Path())
	assert.Equal(t, "POST", eps[1].Method())
	assert.Equal(t, `{"voter": "0x..."}`, eps[1].Request)
	assert.Empty(t, eps[0].Request)
}

func TestParseEndpointsCoversAPIPackage(t *testing.T) {
	eps, err := parseEndpoints("../../internal/api")
	require.NoError(t, err)

	routes := map[string]bool{}
	for _, ep := range eps {
		routes[ep.Route] = true
	}
	for _, want := range []string{
		"POST /api/transactions",
		"POST /api/transactions/{id}/approve",
		"GET /api/transactions/index/{index}",
		"GET /api/participants",
	} {
		assert.True(t, routes[want], want)
	}
}

func TestRenderAsciiDoc(t *testing.T) {
	doc := renderAsciiDoc([]Endpoint{{
		Title:    "Approve Transaction",
		Route:    "POST /api/transactions/{id}/approve",
		Request:  `{"voter": "0x..."}`,
		Response: "200 Transaction object",
	}})

	assert.True(t, strings.HasPrefix(doc, "= API Reference\n"))
	assert.Contains(t, doc, "|POST |`/api/transactions/{id}/approve` |<<ep-approve-transaction,Approve Transaction>>")
	assert.Contains(t, doc, "[[ep-approve-transaction]]")
	assert.Contains(t, doc, "[source,json]")
}
