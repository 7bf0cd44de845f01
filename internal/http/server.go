package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pitrdb/pkg/command"
	"pitrdb/pkg/compression"
	"pitrdb/pkg/dberrors"
	"pitrdb/pkg/metrics"
	"pitrdb/pkg/oplog"
	"pitrdb/pkg/types"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeNDJSON      = "application/x-ndjson"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	defaultNamespace       = "default"
	maxCommandBody         = 1 << 20

	// StatusClientClosedRequest is reported when the caller cancelled the request.
	StatusClientClosedRequest = 499
)

type iStore interface {
	Write(term types.Term, ops []oplog.Op) (oplog.Entry, error)
	Get(ns, key string) ([]byte, bool)
	Scan(from types.GTID, fn func(oplog.Entry) error) error
	Lookup(id types.GTID) (oplog.Entry, error)
}

type iRole interface {
	IsPrimary() bool
}

type iDispatcher interface {
	Dispatch(ctx context.Context, principal command.Principal, name string, body json.RawMessage) (any, error)
}

type iAuthenticator interface {
	Authenticate(header string) (command.Principal, error)
}

// Options configure a Server.
type Options struct {
	Port            string
	Term            types.Term
	BigTxnOps       int
	ShutdownTimeout time.Duration
	Metrics         http.Handler
	Collector       metrics.Collector
	Logger          *slog.Logger
}

// Server is the node's HTTP surface: commands, the KV API and the oplog feed
// downstream members replicate from.
type Server struct {
	store      iStore
	role       iRole
	dispatcher iDispatcher
	auth       iAuthenticator
	opts       Options
	metrics    metrics.Collector
	logger     *slog.Logger

	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance
func NewServer(store iStore, role iRole, dispatcher iDispatcher, auth iAuthenticator, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = defaultHTTPPort
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default().Handler()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		store:      store,
		role:       role,
		dispatcher: dispatcher,
		auth:       auth,
		opts:       opts,
		metrics:    opts.Collector,
		logger:     opts.Logger.With("component", "http"),
		URL:        "http://localhost:" + opts.Port,
		addr:       ":" + opts.Port,
	}
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("HTTP server started", "addr", s.URL)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics)

	r.Post("/api/command/{name}", s.handleCommand)

	r.Put("/api/string", s.handlePut)
	r.Get("/api/string", s.handleGet)
	r.Delete("/api", s.handleDelete)

	r.Get("/api/internal/oplog", s.handleOplog)
	r.Get("/api/internal/oplog/refs/{gtid}", s.handleRefs)

	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		s.logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := dberrors.KindOf(err)
	s.writeJSON(w, statusFor(kind), NewKindErrorResponse(kind.String(), err.Error()))
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind dberrors.Kind) int {
	switch kind {
	case dberrors.KindInvalidArgument:
		return http.StatusBadRequest
	case dberrors.KindUnauthorized:
		return http.StatusForbidden
	case dberrors.KindNotFound:
		return http.StatusNotFound
	case dberrors.KindPreconditionFailed, dberrors.KindTargetAlreadyPassed, dberrors.KindRollbackRequired:
		return http.StatusConflict
	case dberrors.KindCancelled:
		return StatusClientClosedRequest
	case dberrors.KindClosed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}

	name := chi.URLParam(r, "name")
	res, err := s.dispatcher.Dispatch(r.Context(), principal, name, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewResultResponse(res))
}

func namespace(r *http.Request) string {
	if ns := r.FormValue("ns"); ns != "" {
		return ns
	}
	return defaultNamespace
}

func (s *Server) write(w http.ResponseWriter, op oplog.Op) {
	if !s.role.IsPrimary() {
		s.writeJSON(w, http.StatusConflict, NewKindErrorResponse(dberrors.KindPreconditionFailed.String(), "not primary"))
		return
	}
	if _, err := s.store.Write(s.opts.Term, []oplog.Op{op}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	ns := namespace(r)
	key := r.FormValue("key")
	value := r.FormValue("value")

	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	op := oplog.Op{Type: oplog.OpInsert, NS: ns, Key: key, Value: []byte(value)}
	if _, ok := s.store.Get(ns, key); ok {
		op.Type = oplog.OpUpdate
	}
	s.write(w, op)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	value, found := s.store.Get(namespace(r), key)
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(string(value)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	ns := namespace(r)
	if _, ok := s.store.Get(ns, key); !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}
	s.write(w, oplog.Op{Type: oplog.OpDelete, NS: ns, Key: key})
}

// handleOplog streams local oplog entries with GTID >= from as NDJSON.
// Entries with more than BigTxnOps ops are sent by reference.
func (s *Server) handleOplog(w http.ResponseWriter, r *http.Request) {
	from := types.InitialGTID
	if raw := r.URL.Query().Get("from"); raw != "" {
		var err error
		if from, err = types.ParseGTID(raw); err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
			return
		}
	}

	encoding := compression.Negotiate(r.Header.Get("Accept-Encoding"))
	counter := compression.NewCounter(w)
	cw, err := compression.NewWriter(encoding, counter)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	ctx := r.Context()
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(cw)
	started := false
	start := func() {
		w.Header().Set("Content-Type", contentTypeNDJSON)
		if encoding != compression.Identity {
			w.Header().Set("Content-Encoding", encoding)
		}
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	err = s.store.Scan(from, func(e oplog.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			start()
		}
		if s.opts.BigTxnOps > 0 && len(e.Ops) > s.opts.BigTxnOps {
			e.Ops, e.Ref = nil, e.GTID.String()
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
		if err := cw.Flush(); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil && !started {
		s.writeError(w, err)
		return
	}
	if err != nil {
		// headers are gone, the reader sees a truncated stream
		s.logger.Warn("oplog stream aborted", "from", from, "error", err)
		_ = cw.Close()
		return
	}
	if !started {
		start()
	}
	if err := cw.Close(); err != nil {
		s.logger.Warn("oplog stream close", "error", err)
	}
	s.metrics.IncCounter("oplog.stream.bytes", map[string]string{"encoding": encoding}, float64(counter.Count()))
}

func (s *Server) handleRefs(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseGTID(chi.URLParam(r, "gtid"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	e, err := s.store.Lookup(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e.Ops)
}
