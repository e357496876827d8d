package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the gateway can serve traffic.
type ReadyFunc func() bool

// Server exports metrics and health endpoints on their own listener.
type Server struct {
	config   *Config
	gatherer prometheus.Gatherer
	ready    ReadyFunc
	log      *log.Logger

	server       *http.Server
	ln           net.Listener
	shuttingDown atomic.Bool
}

func NewServer(config *Config, gatherer prometheus.Gatherer, ready ReadyFunc, l *log.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:   config,
		gatherer: gatherer,
		ready:    ready,
		log:      l,
	}
}

// Handler returns the mux with /metrics (or the configured path) and
// /health/live, /health/ready.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", s.liveHealthHandler)
	mux.HandleFunc("/health/ready", s.readyHealthHandler)
	return mux
}

// Start listens in the background. It is a no-op when monitoring is disabled.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.log.Info("monitoring disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}

	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("metrics server listening", "addr", s.config.Listen, "path", s.config.Path)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.shuttingDown.Store(true)
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	// Serve may not have taken ownership of the listener yet.
	if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Server) liveHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) readyHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"shutting down"}`)
		return
	}
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"no active cache version"}`)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
