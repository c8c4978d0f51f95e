// Package httpapi is the introspection surface for a storemanager.Manager:
// list stores, inspect cursor status, and trigger truncate/flush.
// Grounded in the chi router and JSON-response idiom used for the
// key/value HTTP surface elsewhere in the corpus.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corelogio/logstore/logstore"
	"github.com/corelogio/logstore/storemanager"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// Server exposes storemanager.Manager over HTTP.
type Server struct {
	manager    *storemanager.Manager
	httpServer *http.Server
	addr       string
}

// NewServer builds a Server bound to addr (e.g. ":8090").
func NewServer(manager *storemanager.Manager, addr string) *Server {
	return &Server{manager: manager, addr: addr}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/stores", s.handleListStores)
	r.Get("/stores/{id}/status", s.handleStatus)
	r.Post("/stores/{id}/truncate", s.handleTruncate)
	r.Post("/stores/{id}/flush", s.handleFlush)
	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("httpapi: server error", "error", err)
		}
	}()
	slog.Info("httpapi: listening", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("httpapi: encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) storeFromPath(w http.ResponseWriter, r *http.Request) (*logstore.LogStore, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid store id")
		return nil, false
	}
	store, ok := s.manager.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "store not found")
		return nil, false
	}
	return store, true
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"store_ids": s.manager.StoreIDs()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromPath(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, store.StatusSnapshot())
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromPath(w, r)
	if !ok {
		return
	}
	uptoLSN, err := strconv.ParseInt(r.URL.Query().Get("upto_lsn"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or invalid upto_lsn")
		return
	}
	inMemoryOnly := r.URL.Query().Get("in_memory_only") != "false"

	if err := store.Truncate(uptoLSN, inMemoryOnly); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFromPath(w, r)
	if !ok {
		return
	}
	uptoLSN := logstore.InvalidLSN
	if raw := r.URL.Query().Get("upto_lsn"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid upto_lsn")
			return
		}
		uptoLSN = v
	}
	store.FlushSync(uptoLSN)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
