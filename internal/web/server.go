// Package web implements the HTTP server for the ledger. It mounts the JSON
// API, the Prometheus endpoint, the live event and activity streams and
// the rendered operator documentation on a single router.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"satya.ledger/sl/internal/api"
	"satya.ledger/sl/internal/docs"
	"satya.ledger/sl/internal/events"
	"satya.ledger/sl/internal/logger"
	"satya.ledger/sl/internal/metrics"
	"satya.ledger/sl/internal/types"
)

const (
	activityPollInterval = 500 * time.Millisecond
	keepAliveInterval    = 30 * time.Second
	writeTimeout         = 10 * time.Second
)

// Options wires the server to the rest of the service. API and Broker are
// required; the remaining fields may be nil.
type Options struct {
	Port      int
	API       *api.Service
	Broker    *events.Broker
	Activity  *logger.Logger
	Docs      *docs.Service
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	AccessLog io.Writer // defaults to os.Stdout
}

// Server is the web server for the API, streams and docs.
type Server struct {
	port      int
	broker    *events.Broker
	activity  *logger.Logger
	docs      *docs.Service
	metrics   *metrics.Metrics
	log       *zap.Logger
	templates *template.Template
	handler   http.Handler
	httpSrv   *http.Server

	stopping chan struct{} // closed when shutdown begins
	stopOnce sync.Once
}

// NewServer creates a new web server.
func NewServer(opts Options) (*Server, error) {
	if opts.API == nil || opts.Broker == nil {
		return nil, errors.New("web server requires an API service and an event broker")
	}
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Activity == nil {
		opts.Activity = logger.New(0)
	}
	if opts.AccessLog == nil {
		opts.AccessLog = os.Stdout
	}

	s := &Server{
		port:      opts.Port,
		broker:    opts.Broker,
		activity:  opts.Activity,
		docs:      opts.Docs,
		metrics:   opts.Metrics,
		log:       opts.Log.With(zap.String("component", "web")),
		templates: templates,
		stopping:  make(chan struct{}),
	}

	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	opts.API.Register(r)

	r.HandleFunc("/ws/events", s.handleEventsWS)
	r.HandleFunc("/ws/activity", s.handleActivityWS)
	r.HandleFunc("/events/stream", s.handleEventStream).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocsList).Methods(http.MethodGet)
	r.HandleFunc("/docs/{name}", s.handleDoc).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.log)),
		handlers.PrintRecoveryStack(true),
	)
	s.handler = handlers.CombinedLoggingHandler(opts.AccessLog, recovery(r))
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the server in the background. The returned channel yields the
// error that stopped it; a clean Shutdown closes it without a value.
func (s *Server) Start() <-chan error {
	s.log.Info("starting HTTP server", zap.Int("port", s.port))

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// streaming handlers never finish on their own, so they are told to
	// return before Shutdown waits for active connections
	s.httpSrv.RegisterOnShutdown(s.stop)
	errCh := make(chan error, 1)

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown ends open event and activity streams, stops accepting
// connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

// handleEventsWS streams ledger events to a websocket client as JSON.
// Slow clients lose events rather than stalling the dispatcher.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	ch, cancel := s.broker.Subscribe()
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closed := watchClose(conn)
	for {
		select {
		case <-closed:
			return
		case <-s.stopping:
			closeGoingAway(conn)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// handleActivityWS sends the recent activity feed, oldest first, then
// polls for new lines.
func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	initial := s.activity.GetRecent(50)
	var last uint64
	// GetRecent returns newest first.
	for i := len(initial) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(initial[i]); err != nil {
			return
		}
		last = initial[i].Seq
	}

	closed := watchClose(conn)
	ticker := time.NewTicker(activityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.stopping:
			closeGoingAway(conn)
			return
		case <-ticker.C:
			for _, msg := range s.activity.After(last) {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				last = msg.Seq
			}
		}
	}
}

// handleEventStream serves the same events as /ws/events over
// server-sent events for clients that cannot speak websocket.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering

	ch, cancel := s.broker.Subscribe()
	defer cancel()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stopping:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs", http.StatusFound)
}

func (s *Server) handleDocsList(w http.ResponseWriter, r *http.Request) {
	var list []string
	if s.docs != nil {
		var err error
		if list, err = s.docs.ListDocs(); err != nil {
			s.log.Error("list docs", zap.Error(err))
			http.Error(w, "Failed to list documents", http.StatusInternalServerError)
			return
		}
	}
	s.render(w, "docs-list", pageData{
		Title:   "Documentation",
		Version: types.Version,
		Docs:    list,
	})
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.docs == nil {
		http.NotFound(w, r)
		return
	}
	content, err := s.docs.GetDoc(r.Context(), name)
	if errors.Is(err, docs.ErrDocNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Error("render doc", zap.String("doc", name), zap.Error(err))
		s.activity.Error(fmt.Sprintf("Failed to load doc %s: %v", name, err))
		http.Error(w, "Failed to render document", http.StatusInternalServerError)
		return
	}
	list, _ := s.docs.ListDocs()
	s.render(w, "doc", pageData{
		Title:   name,
		Version: types.Version,
		Docs:    list,
		Current: name,
		Content: template.HTML(content),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.setCacheHeaders(w)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("execute template", zap.String("template", name), zap.Error(err))
	}
}

// setCacheHeaders sets cache-busting headers so docs edits show up
// without a hard refresh.
func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// watchClose reads from conn until the peer goes away. Clients never send
// anything meaningful, but reading is how close frames are noticed.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

func closeGoingAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
