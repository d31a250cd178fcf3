package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coord-service/internal/config"
)

func TestDevCertGenerator_ReusesValidCert(t *testing.T) {
	dir := t.TempDir()
	g := NewDevCertGenerator(dir)

	first, err := g.GenerateCert([]string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	second, err := g.GenerateCert([]string{"localhost", "127.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
}

func TestTLSManager_FallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.TLSConfig{Enabled: true, CertDir: t.TempDir(), Domain: "coord.internal"})

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "coord.internal"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "coord.internal")

	again, err := m.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Same(t, cert, again)

	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotContains(t, cfg.NextProtos, "acme-tls/1")
}

func TestRequireHTTPS(t *testing.T) {
	h := RequireHTTPS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChallengeHandler_PassThroughWithoutAutoCert(t *testing.T) {
	m := NewTLSManager(config.TLSConfig{})
	fallback := http.NotFoundHandler()
	rec := httptest.NewRecorder()
	m.ChallengeHandler(fallback).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
