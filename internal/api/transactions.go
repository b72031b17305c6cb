package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"satya.ledger/sl/internal/ledger"
)

// @Title: Create Transaction
// @Route: POST /api/transactions
// @Description: Propose a disbursement. Only the proposer participant may call this. The caller is taken from the body or the X-Participant-Address header.
// @Request: {"beneficiary_id": "BEN001", "scheme_name": "PM-KISAN", "amount": 5000, "receipt_hash": "abc123hash", "caller": "0x..."}
// @Response: 201 Transaction object; 403 unauthorized; 400 invalid
func (s *Service) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Caller = caller(r, req.Caller)

	tx, err := s.ledger.Create(r.Context(), req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.Header().Set("Location", "/api/transactions/"+tx.ID)
	s.writeJSON(w, http.StatusCreated, tx)
}

// @Title: Approve Transaction
// @Route: POST /api/transactions/{id}/approve
// @Description: Record the approval of a participant. The voter is taken from the body or the X-Participant-Address header.
// @Request: {"voter": "0x..."}
// @Response: 200 Transaction object; 404 unknown id; 403 unregistered voter; 409 already voted
func (s *Service) HandleApproveTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Voter string `json:"voter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := s.ledger.Approve(r.Context(), mux.Vars(r)["id"], caller(r, req.Voter))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

// @Title: Get Transaction
// @Route: GET /api/transactions/{id}
// @Description: Return a transaction with its votes
// @Response: Transaction object; 404 unknown id
func (s *Service) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

// @Title: Has Voted
// @Route: GET /api/transactions/{id}/votes/{address}
// @Description: Report whether a participant approved a transaction
// @Response: {"voted": true}; 404 unknown id
func (s *Service) HandleHasVoted(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	voted, err := s.ledger.HasVoted(r.Context(), vars["id"], vars["address"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"voted": voted})
}

// @Title: Voting Status
// @Route: GET /api/transactions/{id}/votes
// @Description: Per-participant approval state in role order, with the approvals still needed
// @Response: {"tx_id", "status", "approval_count", "threshold", "remaining", "finalized", "participants": [...], "approval_order": [addresses, earliest first]}
func (s *Service) HandleVotingStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.ledger.VotingStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// @Title: Transaction Count
// @Route: GET /api/transactions/count
// @Description: Number of transactions ever created
// @Response: {"count": 1}
func (s *Service) HandleTransactionCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.Count(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// @Title: Transaction Id By Index
// @Route: GET /api/transactions/index/{index}
// @Description: Id of the transaction at a creation-order position, starting at 0
// @Response: {"index": 0, "id": "..."}; 404 out of range; 400 not an integer
func (s *Service) HandleTransactionIDByIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	id, err := s.ledger.IDAt(r.Context(), index)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"index": index, "id": id})
}

// @Title: List Transactions
// @Route: GET /api/transactions
// @Description: Transactions in creation order. Query offset (default 0) and limit (default 50, max 500).
// @Response: {"count": 2, "offset": 0, "transactions": [...]}
func (s *Service) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"), ledger.DefaultListLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	txs, err := s.ledger.List(r.Context(), offset, limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	total, err := s.ledger.Count(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        total,
		"offset":       offset,
		"transactions": txs,
	})
}

// @Title: Get Participants
// @Route: GET /api/participants
// @Description: The four registered participants in role order, with the proposer role and quorum
// @Response: {"proposer_role": "welfare", "quorum": 3, "participants": [{"address", "role", "name"}]}
func (s *Service) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposer_role": s.ledger.ProposerRole(),
		"quorum":        s.ledger.Quorum().Threshold,
		"participants":  s.ledger.Participants(),
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
