package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/types"
)

func createScenario(t *testing.T, h http.Handler) types.Transaction {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/transactions", map[string]interface{}{
		"beneficiary_id": "BEN001",
		"scheme_name":    "PM-KISAN",
		"amount":         5000,
		"receipt_hash":   "abc123hash",
		"caller":         welfareAddr,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tx types.Transaction
	decode(t, w, &tx)
	return tx
}

func TestCreateApproveFinalizeOverHTTP(t *testing.T) {
	h, _ := setupTest(t)
	tx := createScenario(t, h)
	assert.Equal(t, types.StatusPending, tx.Status)

	for i, voter := range []string{financeAddr, educationAddr, auditAddr} {
		w := do(t, h, http.MethodPost, "/api/transactions/"+tx.ID+"/approve", map[string]string{"voter": voter})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &tx)
		assert.Equal(t, i+1, tx.ApprovalCount)
	}
	assert.True(t, tx.Finalized)
	assert.Equal(t, types.StatusFinalized, tx.Status)

	w := do(t, h, http.MethodGet, "/api/transactions/"+tx.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got types.Transaction
	decode(t, w, &got)
	assert.Equal(t, "BEN001", got.BeneficiaryID)
	assert.Equal(t, 3, got.Votes.Len())
}

func TestStatusMapping(t *testing.T) {
	h, _ := setupTest(t)
	tx := createScenario(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
		reason string
	}{
		{"create by non proposer", http.MethodPost, "/api/transactions",
			map[string]interface{}{"beneficiary_id": "B", "scheme_name": "S", "caller": financeAddr}, http.StatusForbidden, "unauthorized"},
		{"create missing scheme", http.MethodPost, "/api/transactions",
			map[string]interface{}{"beneficiary_id": "B", "caller": welfareAddr}, http.StatusBadRequest, "invalid_transaction"},
		{"approve unknown tx", http.MethodPost, "/api/transactions/nope/approve",
			map[string]string{"voter": financeAddr}, http.StatusNotFound, "not_found"},
		{"approve by outsider", http.MethodPost, "/api/transactions/" + tx.ID + "/approve",
			map[string]string{"voter": "0x1234"}, http.StatusForbidden, "unauthorized"},
		{"get unknown", http.MethodGet, "/api/transactions/nope", nil, http.StatusNotFound, "not_found"},
		{"index out of range", http.MethodGet, "/api/transactions/index/1", nil, http.StatusNotFound, "out_of_range"},
		{"has voted unknown tx", http.MethodGet, "/api/transactions/nope/votes/" + financeAddr, nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
			var body map[string]string
			decode(t, w, &body)
			assert.Equal(t, tt.reason, body["reason"])
		})
	}
}

func TestRepeatApprovalConflict(t *testing.T) {
	h, _ := setupTest(t)
	tx := createScenario(t, h)

	w := do(t, h, http.MethodPost, "/api/transactions/"+tx.ID+"/approve", map[string]string{"voter": financeAddr})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/api/transactions/"+tx.ID+"/approve", map[string]string{"voter": financeAddr})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCallerHeader(t *testing.T) {
	h, _ := setupTest(t)
	tx := createScenario(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/"+tx.ID+"/approve", nil)
	req.Header.Set(CallerHeader, auditAddr)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/transactions/"+tx.ID+"/votes/"+auditAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var voted map[string]bool
	decode(t, w, &voted)
	assert.True(t, voted["voted"])
}

func TestBadInput(t *testing.T) {
	h, _ := setupTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(`{"amount": -5}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/transactions/index/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/transactions?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnumerationEndpoints(t *testing.T) {
	h, _ := setupTest(t)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createScenario(t, h).ID)
	}

	w := do(t, h, http.MethodGet, "/api/transactions/count", nil)
	var count map[string]int
	decode(t, w, &count)
	assert.Equal(t, 3, count["count"])

	for i, id := range ids {
		w := do(t, h, http.MethodGet, fmt.Sprintf("/api/transactions/index/%d", i), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		decode(t, w, &body)
		assert.Equal(t, id, body["id"])
	}

	w = do(t, h, http.MethodGet, "/api/transactions?offset=1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Count        int                 `json:"count"`
		Transactions []types.Transaction `json:"transactions"`
	}
	decode(t, w, &page)
	assert.Equal(t, 3, page.Count)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, ids[1], page.Transactions[0].ID)
}

func TestVotingStatusAndParticipants(t *testing.T) {
	h, _ := setupTest(t)
	tx := createScenario(t, h)
	do(t, h, http.MethodPost, "/api/transactions/"+tx.ID+"/approve", map[string]string{"voter": educationAddr})

	w := do(t, h, http.MethodGet, "/api/transactions/"+tx.ID+"/votes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rep ledger.VoteReport
	decode(t, w, &rep)
	assert.Equal(t, 2, rep.Remaining)
	require.Len(t, rep.Participants, 4)
	assert.True(t, rep.Participants[2].Voted)

	w = do(t, h, http.MethodGet, "/api/participants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var parts struct {
		ProposerRole string              `json:"proposer_role"`
		Quorum       int                 `json:"quorum"`
		Participants []types.Participant `json:"participants"`
	}
	decode(t, w, &parts)
	assert.Equal(t, "welfare", parts.ProposerRole)
	assert.Equal(t, 3, parts.Quorum)
	assert.Equal(t, "Auditor General", parts.Participants[3].Name)
}

func TestActivityFeed(t *testing.T) {
	h, _ := setupTest(t)
	createScenario(t, h)

	w := do(t, h, http.MethodGet, "/api/activity?n=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lines []map[string]interface{}
	decode(t, w, &lines)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0]["text"], "Welfare Ministry proposed")
}
