// Package tls serves the operator API over HTTPS.
package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"coord-service/internal/config"
	"coord-service/internal/util"
)

type TLSManager struct {
	config   config.TLSConfig
	autoCert *autocert.Manager
	selfCert *tls.Certificate
	logger   *zap.Logger
}

func NewTLSManager(cfg config.TLSConfig) *TLSManager {
	m := &TLSManager{config: cfg, logger: util.Named("tls")}
	if cfg.Enabled && cfg.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.config.CertDir, 0o700); err != nil {
		m.logger.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.CertDir),
		Email:      m.config.Email,
	}
	m.logger.Info("AutoCert configured",
		zap.String("domain", m.config.Domain),
		zap.String("cache_dir", m.config.CertDir))
}

// GetCertificate tries autocert, then the configured key pair, then a
// self-signed certificate.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
		if err == nil {
			return &cert, nil
		}
		m.logger.Warn("Configured key pair unusable", zap.Error(err))
	}

	if m.selfCert != nil {
		return m.selfCert, nil
	}
	return m.generateSelfSignedCert()
}

func (m *TLSManager) generateSelfSignedCert() (*tls.Certificate, error) {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.config.Domain != "" {
		hosts = append([]string{m.config.Domain}, hosts...)
	}

	cert, err := NewDevCertGenerator(m.config.CertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.selfCert = &cert
	return m.selfCert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

// ChallengeHandler answers ACME HTTP-01 challenges and passes everything
// else to fallback. Without autocert it returns fallback unchanged.
func (m *TLSManager) ChallengeHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}

// RequireHTTPS rejects any request that wasn't made over TLS.
func RequireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
