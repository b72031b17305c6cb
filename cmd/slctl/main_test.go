package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satya.ledger/sl/internal/types"
)

var testParticipants = []types.Participant{
	{Address: "0xAAA1", Role: types.RoleFinance, Name: "Finance Ministry"},
	{Address: "0xAAA2", Role: types.RoleWelfare, Name: "Welfare Ministry"},
	{Address: "0xAAA3", Role: types.RoleEducation, Name: "Education Ministry"},
	{Address: "0xAAA4", Role: types.RoleAudit, Name: "Auditor General"},
}

func TestResolveParticipant(t *testing.T) {
	tests := []struct {
		who  string
		want types.Role
	}{
		{"0xaaa1", types.RoleFinance},
		{"welfare", types.RoleWelfare},
		{"Education Ministry", types.RoleEducation},
		{"auditor", types.RoleAudit},
	}
	for _, tt := range tests {
		p, err := resolveParticipant(testParticipants, tt.who)
		require.NoError(t, err, tt.who)
		assert.Equal(t, tt.want, p.Role, tt.who)
	}

	_, err := resolveParticipant(testParticipants, "treasury")
	assert.Error(t, err)
	_, err = resolveParticipant(testParticipants, " ")
	assert.Error(t, err)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "░░░░░░", progressBar(0, 3, 6))
	assert.Equal(t, "████░░", progressBar(2, 3, 6))
	assert.Equal(t, "██████", progressBar(4, 3, 6))
	assert.Equal(t, "", progressBar(1, 0, 6))
}

func TestRemainingText(t *testing.T) {
	assert.Equal(t, "need 2 more approvals", remainingText(2))
	assert.Equal(t, "need 1 more approval", remainingText(1))
	assert.Equal(t, "quorum reached", remainingText(0))
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/abc/approve", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"approve abc: already voted","reason":"already_voted"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL+"/").approve(context.Background(), "abc", "0xAAA1")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "already_voted", apiErr.Reason)
}

func TestClientDecodesParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"proposer_role":"welfare","quorum":3,"participants":[{"address":"0xAAA2","role":"welfare","name":"Welfare Ministry"}]}`))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).participants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RoleWelfare, resp.ProposerRole)
	assert.Equal(t, 3, resp.Quorum)
	require.Len(t, resp.Participants, 1)
}
