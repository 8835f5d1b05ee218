// Package ops is the local-only operational HTTP surface: health,
// latest published snapshot and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/alert"
	"github.com/sawpanic/pricesentry/internal/observer"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

type ctxKey int

const requestIDKey ctxKey = iota

const requestTimeout = 5 * time.Second

// Config locates the listener. The zero value is filled with the
// defaults.
type Config struct {
	Host string
	Port int
}

// DefaultConfig binds to localhost only.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 8099}
}

// Server exposes read-only operational endpoints. It doubles as an
// observer and serves the latest published snapshot on /status.
type Server struct {
	cfg     Config
	router  *mux.Router
	server  *http.Server
	metrics *telemetry.Metrics
	monitor *telemetry.Monitor

	exchange  string
	connected func() bool

	mu     sync.RWMutex
	latest *observer.Snapshot
}

// NewServer builds the server and verifies the port is free. A nil
// connected probe reports false.
func NewServer(cfg Config, metrics *telemetry.Metrics, monitor *telemetry.Monitor, exchange string, connected func() bool) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultConfig().Host
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ops port %d unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	if connected == nil {
		connected = func() bool { return false }
	}

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		metrics:   metrics,
		monitor:   monitor,
		exchange:  exchange,
		connected: connected,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.server.Addr }

// Router exposes the handler tree, for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until Shutdown. Listen failures are logged, not fatal to
// the process.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("ops server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Name implements observer.Observer.
func (s *Server) Name() string { return "ops" }

// PublishSnapshot caches the latest snapshot for /status.
func (s *Server) PublishSnapshot(_ context.Context, snap observer.Snapshot) error {
	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()
	return nil
}

// PublishAlert is a no-op; alerts reach /status inside the snapshot.
func (s *Server) PublishAlert(context.Context, alert.Record) error { return nil }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"exchange":  s.exchange,
		"connected": s.connected(),
	}
	if s.monitor != nil {
		body["uptime_seconds"] = s.monitor.Uptime().Seconds()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot published yet"})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("ops response write failed")
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("ops request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware admits browser dashboards served from localhost only.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
