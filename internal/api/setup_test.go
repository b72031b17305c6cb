package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"satya.ledger/sl/internal/config"
	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/logger"
	"satya.ledger/sl/internal/registry"
	"satya.ledger/sl/internal/store"
	"satya.ledger/sl/internal/types"
)

var (
	financeAddr   = config.DefaultParticipants[0].Address
	welfareAddr   = config.DefaultParticipants[1].Address
	educationAddr = config.DefaultParticipants[2].Address
	auditAddr     = config.DefaultParticipants[3].Address
)

// setupTest creates a ledger over a temporary store and returns a router
// with every API route mounted.
func setupTest(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ps, err := config.Default().ParticipantList()
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	reg, err := registry.New(ps, types.RoleWelfare)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	activity := logger.New(100)
	l, err := ledger.New(st, reg, ledger.WithActivity(activity))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	svc := NewService(l, st, activity, nil, 5)
	r := mux.NewRouter()
	svc.Register(r)
	return r, st
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}
