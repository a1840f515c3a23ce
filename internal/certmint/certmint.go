// Package certmint implements the MimicCertificate mint and cache (spec §3
// MimicCertificate, §4.2 step 3), grounded on the teacher's
// certificates.Config/RootCA loading (certificates/config.go,
// certificates/rootca.go) for the issuer material, generalized to mint a
// fresh leaf on demand instead of only loading static pairs from disk.
package certmint

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Issuer is the configured MITM CA (spec §6 "MITM CA"): a parsed
// certificate plus its private key, used to sign every minted leaf.
type Issuer struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// NewIssuer parses a PEM-encoded CA certificate and key pair into an
// Issuer, loading them the way certificates.Config.AddCertificatePairFile
// loads a server pair, but keeping the x509.Certificate (needed to sign
// children) rather than only a tls.Certificate.
func NewIssuer(certPEM, keyPEM []byte) (*Issuer, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	leaf := pair.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, err
		}
	}
	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, errNotSigner
	}
	return &Issuer{Cert: leaf, Key: signer}, nil
}

// Mimic is the minted leaf certificate, cached and reused while valid
// (spec invariant "idempotence: issuing the same host to the mint twice
// within TTL returns identical (cert, key) objects").
type Mimic struct {
	Host    string
	TLS     tls.Certificate
	NotAfter time.Time
}

// entry is the cache's internal node, ordered for LRU eviction.
type entry struct {
	m     *Mimic
	atime time.Time
}

// Cache mints MimicCertificates keyed by host, evicting by LRU or TTL (spec
// §3 MimicCertificate lifecycle: "evicted by LRU or TTL=min(issuer validity
// remaining, 365d)"). A singleflight group (grounded on bassosimone-nop's
// use of golang.org/x/sync) collapses concurrent first-requests for the
// same host into one mint.
type Cache struct {
	issuer   *Issuer
	capacity int

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group
}

// NewCache builds a Cache with the given LRU capacity (spec §6
// session_cache_each_capacity-shaped cap, reused here for the cert cache).
func NewCache(issuer *Issuer, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cache{issuer: issuer, capacity: capacity, entries: make(map[string]*entry)}
}

// maxValidity clamps a freshly minted leaf's lifetime to the issuer's
// remaining validity, per spec invariant 4 ("NotAfter ≤ issuer CA's
// NotAfter"), capped additionally at 365 days.
func (c *Cache) maxValidity(now time.Time) time.Time {
	cap365 := now.Add(365 * 24 * time.Hour)
	if c.issuer.Cert.NotAfter.Before(cap365) {
		return c.issuer.Cert.NotAfter
	}
	return cap365
}

// Get returns a cached, still-valid Mimic for host, minting one on miss.
// Host may be a DNS name (SNI) or an IP literal (spec §4.2 step 3: "SNI if
// present; else upstream IP literal").
func (c *Cache) Get(host string) (*Mimic, error) {
	if m := c.lookup(host); m != nil {
		return m, nil
	}

	v, err, _ := c.group.Do(host, func() (interface{}, error) {
		if m := c.lookup(host); m != nil {
			return m, nil
		}
		return c.mint(host)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Mimic), nil
}

func (c *Cache) lookup(host string) *Mimic {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[host]
	if !ok {
		return nil
	}
	if time.Now().After(e.m.NotAfter) {
		delete(c.entries, host)
		return nil
	}
	e.atime = time.Now()
	return e.m
}

func (c *Cache) store(host string, m *Mimic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[host] = &entry{m: m, atime: time.Now()}
}

// evictLocked removes the least-recently-used entry; caller holds c.mu.
func (c *Cache) evictLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.atime.Before(oldest) {
			oldestKey, oldest, first = k, e.atime, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// mint issues a fresh leaf for host (spec §4.2 step 3): SAN is DNS:host or
// IP:host depending on whether host parses as an IP literal; key algorithm
// follows the issuer's family (RSA/EC/Ed25519); serial is a random 128-bit
// value; AKI is the issuer's SubjectKeyId and SKI comes from skiFor.
func (c *Cache) mint(host string) (*Mimic, error) {
	now := time.Now()
	notAfter := c.maxValidity(now)

	pub, priv, err := c.genKeyLikeIssuer()
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              keyUsageFor(pub),
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          skiFor(pub),
		AuthorityKeyId:        c.issuer.Cert.SubjectKeyId,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, c.issuer.Cert, pub, c.issuer.Key)
	if err != nil {
		return nil, err
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der, c.issuer.Cert.Raw},
		PrivateKey:  priv,
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	tlsCert.Leaf = leaf

	m := &Mimic{Host: host, TLS: tlsCert, NotAfter: notAfter}
	c.store(host, m)
	return m, nil
}

// genKeyLikeIssuer generates a fresh key pair in the same family as the
// issuer's own key (spec §4.2: "Key type matches issuer family").
func (c *Cache) genKeyLikeIssuer() (crypto.PublicKey, crypto.PrivateKey, error) {
	switch c.issuer.Key.Public().(type) {
	case *ecdsa.PublicKey:
		priv, err := ecdsa.GenerateKey(issuerCurve(c.issuer.Key.Public()), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return &priv.PublicKey, priv, nil
	case ed25519.PublicKey:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return pub, priv, nil
	default:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, err
		}
		return &priv.PublicKey, priv, nil
	}
}

func issuerCurve(pub crypto.PublicKey) elliptic.Curve {
	if k, ok := pub.(*ecdsa.PublicKey); ok {
		return k.Curve
	}
	return elliptic.P256()
}

func keyUsageFor(pub crypto.PublicKey) x509.KeyUsage {
	if _, ok := pub.(*rsa.PublicKey); ok {
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	return x509.KeyUsageDigitalSignature
}

// skiFor derives a SubjectKeyId as the 160-bit SHA-1 hash of the public
// key's DER-encoded SubjectPublicKeyInfo. RFC 5280 §4.2.1.2 method (1)
// hashes only the subjectPublicKey bit string, so the value differs from
// that method and from x509.CreateCertificate's own derivation.
func skiFor(pub crypto.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil
	}
	sum := sha1Sum(der)
	return sum[:]
}
