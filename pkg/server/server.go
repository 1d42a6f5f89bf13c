// Package server exposes the live window over HTTP and pushes new samples
// to WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/capture"
	"github.com/itohio/goecg/pkg/config"
	"github.com/itohio/goecg/pkg/hub"
	"github.com/itohio/goecg/pkg/ingest"
	"github.com/itohio/goecg/pkg/rhythm"
	"github.com/itohio/goecg/pkg/sample"
)

// Backend is the live data the server reads. *service.Service implements it.
type Backend interface {
	Snapshot() []sample.Sample
	Subscribe() *hub.Subscriber
	Unsubscribe(*hub.Subscriber)
	Subscribers() int
	Stats() ingest.Stats
}

// DataResponse is the body of GET /data.
type DataResponse struct {
	Timestamps []float64 `json:"timestamps"`
	Voltages   []float64 `json:"voltages"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string       `json:"status"`
	Buffered    int          `json:"buffered"`
	Subscribers int          `json:"subscribers"`
	Ingest      ingest.Stats `json:"ingest"`
}

// Server serves the HTTP and WebSocket endpoints.
type Server struct {
	cfg      config.HTTPConfig
	backend  Backend
	detector *rhythm.Detector
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	upgrader websocket.Upgrader
	done     chan struct{}
	stopOnce sync.Once
	clients  sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRhythm enables GET /rhythm.
func WithRhythm(d *rhythm.Detector) Option {
	return func(s *Server) {
		s.detector = d
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// New creates a server over backend.
func New(cfg config.HTTPConfig, backend Backend, opts ...Option) *Server {
	def := config.Default().HTTP
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}

	s := &Server{
		cfg:      cfg,
		backend:  backend,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{
			// Dashboards are served from other origins
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data", s.handleData)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /rhythm", s.handleRhythm)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down within the grace period.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[server] listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.Stop()
	err := srv.Shutdown(shutdownCtx)
	s.clients.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("[server] stopped")
	return nil
}

// Stop ends all WebSocket sessions.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	maxPoints := s.cfg.MaxPoints
	if v := r.URL.Query().Get("max_points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "max_points must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxPoints = n
	}

	window := sample.Downsample(nil, s.backend.Snapshot(), maxPoints)
	var resp DataResponse
	resp.Timestamps, resp.Voltages = sample.Split(window)
	s.writeJSON(w, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	window := s.backend.Snapshot()
	var duration float64
	if n := len(window); n > 1 {
		duration = window[n-1].Timestamp - window[0].Timestamp
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ecg_data.txt"`)
	if err := capture.Write(w, capture.HeaderFor(window, capture.DefaultTitle, duration), window); err != nil {
		s.logger.Warn("[server] export failed", zap.Error(err))
	}
}

func (s *Server) handleRhythm(w http.ResponseWriter, _ *http.Request) {
	if s.detector == nil {
		http.Error(w, "rhythm estimation disabled", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.detector.Estimate())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, HealthResponse{
		Status:      "ok",
		Buffered:    len(s.backend.Snapshot()),
		Subscribers: s.backend.Subscribers(),
		Ingest:      s.backend.Stats(),
	})
}

// writeJSON encodes before writing so an encoding failure still gets a status.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("[server] failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Debug("[server] failed to write response", zap.Error(err))
	}
}
