// Package health serves the health and metrics endpoints of a long-running client.
package health

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyluth/dhtc/pkg/dht"
)

// Status is a concurrency-safe snapshot of the client, fed from the controlling
// goroutine and read by HTTP handlers.
type Status struct {
	mu      sync.RWMutex
	state   dht.State
	address string
	since   time.Time
}

// NewStatus starts out disconnected.
func NewStatus() *Status {
	return &Status{state: dht.Disconnected, since: time.Now()}
}

// OnStateChanged records a transition. Attach it with dht.MaskStateChanged.
func (s *Status) OnStateChanged(state dht.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.since = time.Now()
	if state != dht.Connected {
		s.address = ""
	}
}

// SetAddress records the external address once connected.
func (s *Status) SetAddress(addr string) {
	s.mu.Lock()
	s.address = addr
	s.mu.Unlock()
}

// State returns the last recorded state.
func (s *Status) State() dht.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Status) snapshot() Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := Response{State: s.state.String(), Address: s.address, Since: s.since.UTC().Format(time.RFC3339)}
	if s.state == dht.Connected {
		r.Status = "healthy"
	} else {
		r.Status = "unhealthy"
	}
	return r
}

// Response is the JSON body of GET /healthz.
type Response struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Address string `json:"address,omitempty"`
	Since   string `json:"since"`
}

// Server provides HTTP health check and metrics endpoints.
type Server struct {
	status   *Status
	gatherer prometheus.Gatherer
	server   *http.Server
	listener net.Listener
}

// NewServer creates a health server. A nil gatherer leaves /metrics unregistered.
func NewServer(status *Status, gatherer prometheus.Gatherer) *Server {
	return &Server{status: status, gatherer: gatherer}
}

// Handler returns the routes served by Start.
func (h *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on addr and serves in the background.
func (h *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *Server) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (h *Server) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 while connected and 503 otherwise.
func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := h.status.snapshot()
	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
