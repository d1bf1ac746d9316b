package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dray-io/dray-rest/internal/logging"
)

func generateTestCert(t *testing.T, dir string, serial int64) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600); err != nil {
		t.Fatalf("failed to write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return certPath, keyPath
}

func leafSerial(t *testing.T, cert *tls.Certificate) int64 {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return leaf.SerialNumber.Int64()
}

func TestCertReloader_Load(t *testing.T) {
	certPath, keyPath := generateTestCert(t, t.TempDir(), 1)

	reloader, err := NewCertReloader(certPath, keyPath, logging.Nop())
	if err != nil {
		t.Fatalf("NewCertReloader failed: %v", err)
	}

	cert, err := reloader.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate failed: %v", err)
	}
	if got := leafSerial(t, cert); got != 1 {
		t.Errorf("expected serial 1, got %d", got)
	}
}

func TestCertReloader_Reload(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateTestCert(t, dir, 1)

	reloader, err := NewCertReloader(certPath, keyPath, logging.Nop())
	if err != nil {
		t.Fatalf("NewCertReloader failed: %v", err)
	}

	generateTestCert(t, dir, 2)
	if err := reloader.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cert, err := reloader.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate after reload failed: %v", err)
	}
	if got := leafSerial(t, cert); got != 2 {
		t.Errorf("expected serial 2 after reload, got %d", got)
	}
}

func TestCertReloader_ReloadKeepsOldCertOnFailure(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateTestCert(t, dir, 7)

	reloader, err := NewCertReloader(certPath, keyPath, logging.Nop())
	if err != nil {
		t.Fatalf("NewCertReloader failed: %v", err)
	}

	if err := os.WriteFile(certPath, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := reloader.Reload(); err == nil {
		t.Fatal("expected reload of invalid cert to fail")
	}

	cert, err := reloader.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate failed: %v", err)
	}
	if got := leafSerial(t, cert); got != 7 {
		t.Errorf("expected previous serial 7 to stay in use, got %d", got)
	}
}

func TestCertReloader_InvalidAndMissing(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	os.WriteFile(certPath, []byte("invalid cert"), 0o600)
	os.WriteFile(keyPath, []byte("invalid key"), 0o600)

	if _, err := NewCertReloader(certPath, keyPath, logging.Nop()); err == nil {
		t.Error("expected error for invalid certificate")
	}
	if _, err := NewCertReloader("/nonexistent/cert.pem", "/nonexistent/key.pem", logging.Nop()); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestCertReloader_WatcherPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateTestCert(t, dir, 1)

	reloader, err := NewCertReloader(certPath, keyPath, logging.Nop())
	if err != nil {
		t.Fatalf("NewCertReloader failed: %v", err)
	}
	reloader.StartWatcher(10 * time.Millisecond)
	defer reloader.Stop()

	generateTestCert(t, dir, 2)
	future := time.Now().Add(time.Minute)
	os.Chtimes(certPath, future, future)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cert, _ := reloader.GetCertificate(nil)
		if leafSerial(t, cert) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher did not reload the rotated certificate")
}

func TestCertReloader_StopIsSafe(t *testing.T) {
	certPath, keyPath := generateTestCert(t, t.TempDir(), 1)

	reloader, err := NewCertReloader(certPath, keyPath, logging.Nop())
	if err != nil {
		t.Fatalf("NewCertReloader failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		reloader.Stop()
		reloader.Stop()
		reloader.StartWatcher(time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked without a running watcher")
	}
}

func TestNewTLSListener(t *testing.T) {
	certPath, keyPath := generateTestCert(t, t.TempDir(), 1)

	tests := []struct {
		name    string
		cfg     TLSConfig
		wantErr bool
	}{
		{"enabled", TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath}, false},
		{"disabled", TLSConfig{Enabled: false}, true},
		{"missing files", TLSConfig{Enabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, reloader, err := NewTLSListener("127.0.0.1:0", tt.cfg, logging.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTLSListener() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer ln.Close()
			if reloader == nil {
				t.Error("reloader should not be nil")
			}
		})
	}
}

func TestServerWithTLS(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateTestCert(t, dir, 1)

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TLS = TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath}

	srv := New(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}), logging.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	addr := waitForAddr(t, srv)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}

	get := func() *tls.ConnectionState {
		t.Helper()
		resp, err := client.Get("https://" + addr + "/")
		if err != nil {
			t.Fatalf("request over TLS failed: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "ok" {
			t.Fatalf("unexpected body %q", body)
		}
		return resp.TLS
	}

	state := get()
	if got := state.PeerCertificates[0].SerialNumber.Int64(); got != 1 {
		t.Errorf("expected serial 1, got %d", got)
	}

	generateTestCert(t, dir, 2)
	if err := srv.ReloadCertificate(); err != nil {
		t.Fatalf("failed to reload certificate: %v", err)
	}
	client.CloseIdleConnections()

	state = get()
	if got := state.PeerCertificates[0].SerialNumber.Int64(); got != 2 {
		t.Errorf("expected serial 2 after reload, got %d", got)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("failed to close server: %v", err)
	}
	select {
	case err := <-errCh:
		if err != ErrServerClosed {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("server didn't stop in time")
	}
}

func TestServerReloadCertificateNoTLS(t *testing.T) {
	srv := New(DefaultConfig(), http.NotFoundHandler(), logging.Nop())
	if err := srv.ReloadCertificate(); err == nil {
		t.Error("expected error when reloading without TLS")
	}
}
