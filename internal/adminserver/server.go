// Package adminserver exposes a minimal read-only HTTP surface over a
// StorageManager: a liveness probe and a stats snapshot, in the same
// router/middleware shape the wider document-store server uses for its
// own admin endpoints, trimmed to just the two routes this physical layer
// has anything to say about.
package adminserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oakdb/heapstore/pkg/storagemgr"
)

// Server is a thin HTTP wrapper around a StorageManager's stats.
type Server struct {
	router    *chi.Mux
	sm        *storagemgr.StorageManager
	startTime time.Time
	httpSrv   *http.Server
}

// New builds a Server listening on addr and backed by sm.
func New(addr string, sm *storagemgr.StorageManager) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		sm:        sm,
		startTime: time.Now(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/_health", s.handleHealth)
	s.router.Get("/_stats", s.handleStats)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"uptime_sec": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sm.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("adminserver: error encoding response: %v\n", err)
	}
}

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.httpSrv.Close()
}
