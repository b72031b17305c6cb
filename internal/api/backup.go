package api

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// @Title: Create Backup
// @Route: POST /api/backups
// @Description: Write a consistent snapshot of the ledger database to the backup directory
// @Response: {"name": "ledger-1700000000.db", "size": 24576, "created_at": "..."}
func (s *Service) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.BackupCurrent(s.maxBackups)
	if err != nil {
		s.log.Error("backup failed", zap.Error(err))
		s.activity.Error(fmt.Sprintf("Backup failed: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}

	s.activity.Info(fmt.Sprintf("Backup created: %s", b.Name))
	s.writeJSON(w, http.StatusCreated, b)
}

// @Title: List Backups
// @Route: GET /api/backups
// @Description: List ledger snapshots, oldest first
// @Response: Array of {"name", "size", "created_at"}
func (s *Service) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.Backups()
	if err != nil {
		s.log.Error("list backups failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to list backups")
		return
	}
	if backups == nil {
		s.writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}
