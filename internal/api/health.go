package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"satya.ledger/sl/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status and the number of undelivered events
// @Response: {"status": "ok", "pending_events": 0}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingCount(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "store unavailable",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"pending_events": pending,
	})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns service version, build and quorum information
// @Response: {"version": "...", "status": "ok", "quorum": "3"}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"status":     "ok",
		"hostname":   hostname,
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"quorum":     strconv.Itoa(s.ledger.Quorum().Threshold),
	})
}

// @Title: Get Activity
// @Route: GET /api/activity
// @Description: Returns recent ledger activity, newest first. Optional query n (default 50).
// @Response: Array of {"seq", "timestamp", "text", "level"}
func (s *Service) HandleActivity(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	s.writeJSON(w, http.StatusOK, s.activity.GetRecent(n))
}
