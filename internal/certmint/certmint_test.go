package certmint

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// newTestIssuer mints a throwaway self-signed CA the way
// httpserver/testhelpers/certs.go builds synthetic certs for its own
// tests, inline rather than from fixture files.
func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test mitm ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("self-sign CA: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA: %v", err)
	}

	return &Issuer{Cert: cert, Key: priv}
}

func TestCacheMintIdempotent(t *testing.T) {
	c := NewCache(newTestIssuer(t), 16)

	m1, err := c.Get("example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	m2, err := c.Get("example.com")
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if m1 != m2 {
		t.Fatalf("expected identical Mimic on second request within TTL")
	}
}

func TestMintNotAfterClampedToIssuer(t *testing.T) {
	issuer := newTestIssuer(t)
	c := NewCache(issuer, 16)

	m, err := c.Get("example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if m.NotAfter.After(issuer.Cert.NotAfter) {
		t.Fatalf("mimic NotAfter %v after issuer NotAfter %v", m.NotAfter, issuer.Cert.NotAfter)
	}
}

func TestMintIPLiteralSAN(t *testing.T) {
	c := NewCache(newTestIssuer(t), 16)

	m, err := c.Get("203.0.113.7")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(m.TLS.Leaf.IPAddresses) != 1 || m.TLS.Leaf.IPAddresses[0].String() != "203.0.113.7" {
		t.Fatalf("expected IP SAN 203.0.113.7, got %v", m.TLS.Leaf.IPAddresses)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(newTestIssuer(t), 2)

	if _, err := c.Get("a.example.com"); err != nil {
		t.Fatalf("mint a: %v", err)
	}
	if _, err := c.Get("b.example.com"); err != nil {
		t.Fatalf("mint b: %v", err)
	}
	// touch a so b becomes the LRU victim
	if _, err := c.Get("a.example.com"); err != nil {
		t.Fatalf("re-get a: %v", err)
	}
	if _, err := c.Get("c.example.com"); err != nil {
		t.Fatalf("mint c: %v", err)
	}

	c.mu.Lock()
	_, hasB := c.entries["b.example.com"]
	_, hasA := c.entries["a.example.com"]
	c.mu.Unlock()

	if hasB {
		t.Fatalf("expected b.example.com to be evicted as LRU")
	}
	if !hasA {
		t.Fatalf("expected a.example.com to survive (recently touched)")
	}
}
