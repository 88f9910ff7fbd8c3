// Package status exposes a small HTTP surface reporting the agent's last
// reconciliation tick.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opp-network/opp/pkg/reconcile"
	"github.com/opp-network/opp/pkg/util"
)

// Compile-time interface check
var _ reconcile.Recorder = (*Server)(nil)

// Server records tick results and serves them over HTTP.
type Server struct {
	mu    sync.RWMutex
	ticks uint64
	last  *reconcile.TickResult

	http *http.Server
}

// NewServer creates a status server listening on addr once Start is called.
func NewServer(addr string) *Server {
	s := &Server{}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Record stores the result of a reconciliation tick.
func (s *Server) Record(result reconcile.TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.last = &result
}

// Start serves HTTP until the context is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			util.Debugf("Status server shutdown: %v", err)
		}
	}()

	go func() {
		util.Infof("Status server listening on %s.", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Warnf("Status server: %v", err)
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// statusResponse is the /status payload.
type statusResponse struct {
	Ticks    uint64                `json:"ticks"`
	LastTick *reconcile.TickResult `json:"last_tick,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := statusResponse{Ticks: s.ticks, LastTick: s.last}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		util.Debugf("Encoding status response: %v", err)
	}
}
