// Package api exposes the ledger operations as a JSON HTTP API. Handlers
// carry @Title/@Route annotations that cmd/docgen turns into the API
// reference.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/logger"
	"satya.ledger/sl/internal/store"
)

// CallerHeader may carry the acting participant address instead of the
// request body.
const CallerHeader = "X-Participant-Address"

// BackupStore is the part of the store the API needs besides the ledger.
type BackupStore interface {
	BackupCurrent(maxBackups int) (store.Backup, error)
	Backups() ([]store.Backup, error)
	PendingCount(ctx context.Context) (int, error)
}

// Service handles API requests
type Service struct {
	ledger     *ledger.Ledger
	store      BackupStore
	activity   *logger.Logger
	log        *zap.Logger
	maxBackups int
}

// NewService creates a new API service
func NewService(l *ledger.Ledger, st BackupStore, activity *logger.Logger, log *zap.Logger, maxBackups int) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:     l,
		store:      st,
		activity:   activity,
		log:        log.With(zap.String("component", "api")),
		maxBackups: maxBackups,
	}
}

// Register mounts every API route on r. Literal paths are registered
// before the {id} patterns they would otherwise collide with.
func (s *Service) Register(r *mux.Router) {
	r.HandleFunc("/api/health", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/version", s.HandleVersion).Methods(http.MethodGet)
	r.HandleFunc("/api/participants", s.HandleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/api/activity", s.HandleActivity).Methods(http.MethodGet)

	r.HandleFunc("/api/transactions", s.HandleCreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/transactions", s.HandleListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/count", s.HandleTransactionCount).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/index/{index}", s.HandleTransactionIDByIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/{id}", s.HandleGetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/{id}/approve", s.HandleApproveTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/transactions/{id}/votes", s.HandleVotingStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions/{id}/votes/{address}", s.HandleHasVoted).Methods(http.MethodGet)

	r.HandleFunc("/api/backups", s.HandleCreateBackup).Methods(http.MethodPost)
	r.HandleFunc("/api/backups", s.HandleListBackups).Methods(http.MethodGet)
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeLedgerError maps a ledger error onto its HTTP status. Unexpected
// errors are logged and reported without detail.
func (s *Service) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("ledger operation failed", zap.Error(err))
		s.writeError(w, status, "internal error")
		return
	}
	s.writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"reason": ledger.Reason(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidTransaction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// caller returns the explicit address if set, else the caller header.
func caller(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return r.Header.Get(CallerHeader)
}
