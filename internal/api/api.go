// Package api implements the triage companion server. It holds one review
// document per (repository, comparison) and notifies connected clients
// when a document changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/store"
)

// DiffLoader produces the parsed diff for a comparison in a repository.
type DiffLoader func(ctx context.Context, repoPath string, c model.Comparison) (*diff.DiffSet, error)

// Server is the triage HTTP server.
type Server struct {
	addr     string
	mux      *http.ServeMux
	server   *http.Server
	store    store.Store
	registry *store.Registry
	logger   *slog.Logger
	token    string
	version  string
	loadDiff DiffLoader
	validate *validator.Validate
	hub      *hub
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry resolves ?repo= through the repository registry.
func WithRegistry(r *store.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithToken requires "Authorization: Bearer <token>" on every route but
// /health.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithDiffLoader replaces the git-backed diff loader.
func WithDiffLoader(l DiffLoader) Option {
	return func(s *Server) { s.loadDiff = l }
}

// New creates a new API server backed by st.
func New(addr string, st store.Store, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		store:    st,
		logger:   slog.Default(),
		version:  "dev",
		loadDiff: diff.Load,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /info", s.handleInfo)
	s.mux.HandleFunc("GET /reviews", s.handleListReviews)
	s.mux.HandleFunc("GET /comparisons/{comp}/review", s.handleGetReview)
	s.mux.HandleFunc("PUT /comparisons/{comp}/review", s.handlePutReview)
	s.mux.HandleFunc("DELETE /comparisons/{comp}/review", s.handleDeleteReview)
	s.mux.HandleFunc("POST /comparisons/{comp}/hunks", s.handleHunks)
	s.mux.HandleFunc("GET /comparisons/{comp}/symbols", s.handleGetSymbols)
	s.mux.HandleFunc("PUT /comparisons/{comp}/symbols", s.handlePutSymbols)
	s.mux.HandleFunc("GET /comparisons/{comp}/clusters", s.handleClusters)
	s.mux.HandleFunc("GET /comparisons/{comp}/tree", s.handleTree)
	s.mux.HandleFunc("GET /taxonomy", s.handleTaxonomy)
	s.mux.Handle("GET /metrics", metricsHandler())
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("triage server listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		return s.server.Shutdown(shutdownCtx)
	}
}

// WatchStore forwards changes made to fs by other processes to websocket
// subscribers until ctx is cancelled.
func (s *Server) WatchStore(ctx context.Context, fs *store.FileStore) error {
	w, err := store.NewWatcher(fs, s.logger, func(c store.Change) {
		s.hub.broadcast(model.StateChange{Repo: c.RepoID, Comparison: c.Key, Version: c.Version, Deleted: c.Deleted})
	})
	if err != nil {
		return fmt.Errorf("watch store: %w", err)
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	go w.Start(ctx)
	return nil
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.authenticate(s.mux))
}

// resolveRepo maps ?repo= to a repository. The value is a registered id
// or an absolute path, which is registered on first use.
func (s *Server) resolveRepo(r *http.Request) (model.RepoEntry, error) {
	ref := r.URL.Query().Get("repo")
	if ref == "" {
		return model.RepoEntry{}, errs.Validationf("api.resolveRepo", "repo query parameter is required")
	}
	if s.registry != nil {
		if filepath.IsAbs(ref) {
			return s.registry.Register(r.Context(), ref)
		}
		return s.registry.Get(r.Context(), ref)
	}
	if filepath.IsAbs(ref) {
		id, err := store.RepoID(ref)
		if err != nil {
			return model.RepoEntry{}, err
		}
		return model.RepoEntry{ID: id, Path: ref, Name: filepath.Base(ref)}, nil
	}
	return model.RepoEntry{ID: ref}, nil
}

// comparison parses the {comp} path segment.
func comparison(r *http.Request) (model.Comparison, error) {
	c, err := model.ParseComparison(r.PathValue("comp"))
	if err != nil {
		return model.Comparison{}, errs.Wrap(errs.Validation, "api.comparison", err)
	}
	return c, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type conflictResponse struct {
	Error    string `json:"error"`
	Expected int64  `json:"expected"`
	Found    int64  `json:"found"`
}

// writeErr maps err onto its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	if c, ok := errs.AsConflict(err); ok {
		writeJSON(w, http.StatusConflict, conflictResponse{Error: c.Error(), Expected: c.Expected, Found: c.Found})
		return
	}
	writeError(w, errs.HTTPStatus(errs.KindOf(err)), err.Error())
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
