package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/dray-rest/internal/logging"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown or Close.
var ErrServerClosed = errors.New("server: closed")

// Config holds configuration for the API server.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int64
	TLS             TLSConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8082",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		MaxRequestBytes: 16 * 1024 * 1024, // 16MB
	}
}

// Server runs the produce API over HTTP, optionally with TLS.
type Server struct {
	cfg    Config
	http   *http.Server
	logger *logging.Logger

	mu           sync.Mutex
	listener     net.Listener
	certReloader *CertReloader
	closed       atomic.Bool
}

// New creates a Server serving handler.
func New(cfg Config, handler http.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

// ListenAndServe starts the server on the configured address.
// If TLS is enabled, it creates a TLS listener with certificate hot-reload support.
func (s *Server) ListenAndServe() error {
	if s.cfg.TLS.Enabled {
		ln, reloader, err := NewTLSListener(s.cfg.ListenAddr, s.cfg.TLS, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create TLS listener: %w", err)
		}
		s.mu.Lock()
		s.certReloader = reloader
		s.mu.Unlock()
		reloader.StartWatcher(DefaultCertCheckInterval)
		return s.Serve(ln)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown or Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infof("api server listening", map[string]any{
		"addr": ln.Addr().String(),
		"tls":  s.cfg.TLS.Enabled,
	})

	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// Addr returns the listener's address, or nil if not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done. In-flight produce calls keep running to completion
// on their own deadlines even if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	defer s.stopReloader()
	return s.http.Shutdown(ctx)
}

// Close shuts down the server immediately.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	defer s.stopReloader()
	return s.http.Close()
}

// ReloadCertificate manually triggers a certificate reload.
// Returns an error if TLS is not enabled or if the reload fails.
func (s *Server) ReloadCertificate() error {
	s.mu.Lock()
	reloader := s.certReloader
	s.mu.Unlock()
	if reloader == nil {
		return errors.New("TLS is not enabled")
	}
	return reloader.Reload()
}

func (s *Server) stopReloader() {
	s.mu.Lock()
	reloader := s.certReloader
	s.mu.Unlock()
	if reloader != nil {
		reloader.Stop()
	}
}
