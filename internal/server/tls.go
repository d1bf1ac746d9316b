package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/dray-rest/internal/logging"
)

// DefaultCertCheckInterval is how often the certificate watcher stats the
// certificate and key files.
const DefaultCertCheckInterval = 30 * time.Second

// TLSConfig holds TLS configuration for the API listener.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// CertReloader serves the current certificate to TLS handshakes and swaps
// it when the files on disk change, so rotated certificates apply without a
// restart.
type CertReloader struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	logger   *logging.Logger

	mu      sync.Mutex
	lastMod time.Time
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCertReloader loads the certificate pair and returns a reloader for it.
func NewCertReloader(certFile, keyFile string, logger *logging.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if err := r.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial certificate: %w", err)
	}
	r.lastMod, _ = r.modTime()
	return r, nil
}

func (r *CertReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate pair: %w", err)
	}
	r.cert.Store(&cert)
	r.logger.Infof("TLS certificate loaded", map[string]any{
		"certFile": r.certFile,
		"keyFile":  r.keyFile,
	})
	return nil
}

// GetCertificate implements the tls.Config GetCertificate callback.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.cert.Load()
	if cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return cert, nil
}

// Reload reloads the certificate pair from disk. The previous certificate
// stays in use when loading fails.
func (r *CertReloader) Reload() error {
	if err := r.load(); err != nil {
		r.logger.Errorf("failed to reload certificate", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

// TLSConfig returns a server tls.Config backed by the reloader.
func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// StartWatcher polls the certificate files every interval and reloads when
// either has been modified.
func (r *CertReloader) StartWatcher(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCertCheckInterval
	}

	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if r.changed() {
					if err := r.Reload(); err != nil {
						r.logger.Warnf("certificate reload failed", map[string]any{"error": err.Error()})
					}
				}
			}
		}
	}()

	r.logger.Infof("certificate watcher started", map[string]any{"interval": interval.String()})
}

func (r *CertReloader) modTime() (time.Time, error) {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return time.Time{}, err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return time.Time{}, err
	}
	latest := certInfo.ModTime()
	if keyInfo.ModTime().After(latest) {
		latest = keyInfo.ModTime()
	}
	return latest, nil
}

// changed reports whether either file is newer than the last one seen.
func (r *CertReloader) changed() bool {
	latest, err := r.modTime()
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if latest.After(r.lastMod) {
		r.lastMod = latest
		return true
	}
	return false
}

// Stop stops the watcher. It is safe to call more than once and without a
// prior StartWatcher.
func (r *CertReloader) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// NewTLSListener listens on addr and wraps the listener in TLS served by a
// new CertReloader.
func NewTLSListener(addr string, cfg TLSConfig, logger *logging.Logger) (net.Listener, *CertReloader, error) {
	if !cfg.Enabled {
		return nil, nil, errors.New("TLS is not enabled")
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, errors.New("certificate and key files are required")
	}

	reloader, err := NewCertReloader(cfg.CertFile, cfg.KeyFile, logger)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return tls.NewListener(ln, reloader.TLSConfig()), reloader, nil
}
