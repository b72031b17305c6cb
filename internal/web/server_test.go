package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satya.ledger/sl/internal/api"
	"satya.ledger/sl/internal/config"
	"satya.ledger/sl/internal/docs"
	"satya.ledger/sl/internal/events"
	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/logger"
	"satya.ledger/sl/internal/metrics"
	"satya.ledger/sl/internal/registry"
	"satya.ledger/sl/internal/store"
	"satya.ledger/sl/internal/types"
)

type testEnv struct {
	srv      *httptest.Server
	server   *Server
	broker   *events.Broker
	activity *logger.Logger
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewStore(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ps, err := config.Default().ParticipantList()
	require.NoError(t, err)
	reg, err := registry.New(ps, types.RoleWelfare)
	require.NoError(t, err)

	m := metrics.New()
	activity := logger.New(100)
	l, err := ledger.New(st, reg, ledger.WithActivity(activity), ledger.WithMetrics(m))
	require.NoError(t, err)

	docsDir := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "operations.adoc"),
		[]byte("= Operations\n\nBack up the *ledger* daily.\n"), 0o644))

	broker := events.NewBroker()
	s, err := NewServer(Options{
		API:       api.NewService(l, st, activity, nil, 5),
		Broker:    broker,
		Activity:  activity,
		Docs:      docs.NewService(docsDir),
		Metrics:   m,
		AccessLog: io.Discard,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, server: s, broker: broker, activity: activity}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServerRequiresAPIAndBroker(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestEventsWebsocketStreamsBrokerEvents(t *testing.T) {
	env := setupServer(t)
	conn := env.dial(t, "/ws/events")

	require.Eventually(t, func() bool { return env.broker.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := types.Event{Seq: 4, Kind: types.EventTransactionApproved, TxID: "tx-1", Voter: "0xabc", ApprovalCount: 3, Finalized: true}
	require.NoError(t, env.broker.Deliver(context.Background(), ev))

	var got types.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(4), got.Seq)
	assert.Equal(t, "tx-1", got.TxID)
	assert.True(t, got.Finalized)

	conn.Close()
	require.Eventually(t, func() bool { return env.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestActivityWebsocketSendsHistoryThenNewLines(t *testing.T) {
	env := setupServer(t)
	env.activity.Info("first")
	env.activity.Info("second")

	conn := env.dial(t, "/ws/activity")

	var msg logger.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "first", msg.Text)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "second", msg.Text)

	env.activity.Warning("third")
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "third", msg.Text)
	assert.Equal(t, "warning", msg.Level)
}

func TestDocsPages(t *testing.T) {
	env := setupServer(t)

	code, body := get(t, env.srv.URL+"/docs")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `href="/docs/operations"`)

	code, body = get(t, env.srv.URL+"/docs/operations")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<strong>ledger</strong>")

	code, _ = get(t, env.srv.URL+"/docs/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIAndMetricsMounted(t *testing.T) {
	env := setupServer(t)

	code, body := get(t, env.srv.URL+"/api/transactions/count")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"count":0}`, body)

	code, body = get(t, env.srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `sl_http_requests_total{route="/api/transactions/count",status="200"} 1`)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	env := setupServer(t)

	resp, err := http.Get(env.srv.URL + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, len(": connected\n\n"))
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, ": connected\n\n", string(buf))

	conn := env.dial(t, "/ws/events")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	streamDone := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		streamDone <- err
	}()
	select {
	case err := <-streamDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("event stream still open after shutdown")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected websocket error: %v", err)
}
