// Package tlsadaptor drives the TLS MITM session described in spec §4.2,
// built on the teacher's certificates.Config.TlsConfig pattern
// (certificates/model.go) for assembling a *tls.Config, generalized to
// defer certificate selection to ClientHello (GetCertificate) instead of a
// static certificate list, and to negotiate ALPN against an optional
// upstream-facing handshake performed first in "chained" mode.
package tlsadaptor

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/nabbar/g3relay/internal/certmint"
	"github.com/nabbar/g3relay/internal/protoerr"
)

// Session is one TLS MITM interception: a server-side handshake to the
// client using a mimic certificate, paired with a client-side handshake to
// the upstream (spec §3 TlsInterceptionSession).
type Session struct {
	Client *tls.Conn // plaintext-facing: the client's TLS session, terminated here
	Server *tls.Conn // plaintext-facing: our TLS session to the upstream
	SNI    string
	ALPN   string
}

// Options configures one MITM session.
type Options struct {
	Certs          *certmint.Cache
	UpstreamDialer func(ctx context.Context, network, addr string) (net.Conn, error)
	UpstreamAddr   string
	DefaultALPN    []string // used when no upstream session exists
	Chained        bool     // open the upstream TLS session first (spec step 2)
	MinVersion     uint16
	MaxVersion     uint16
}

// Establish performs the MITM handshake described in spec §4.2. clientConn
// is the raw (post-sniff) client connection; the returned Session's Client
// field is the resulting server-side tls.Conn, ready for the next protocol
// engine to read/write plaintext through.
func Establish(ctx context.Context, clientConn net.Conn, opt Options) (*Session, error) {
	sess := &Session{}

	if opt.Chained {
		upConn, err := opt.UpstreamDialer(ctx, "tcp", opt.UpstreamAddr)
		if err != nil {
			return nil, protoerr.ConnectTimeout.Error(err)
		}
		upTLS := tls.Client(upConn, &tls.Config{
			ServerName: serverNameFromAddr(opt.UpstreamAddr),
			MinVersion: opt.MinVersion,
			MaxVersion: opt.MaxVersion,
			NextProtos: opt.DefaultALPN,
		})
		if err := upTLS.HandshakeContext(ctx); err != nil {
			_ = upConn.Close()
			return nil, protoerr.HandshakeTimeout.Error(err)
		}
		sess.Server = upTLS
		sess.ALPN = upTLS.ConnectionState().NegotiatedProtocol
	}

	var sni string
	cfg := &tls.Config{
		MinVersion: opt.MinVersion,
		MaxVersion: opt.MaxVersion,
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			sni = chi.ServerName
			host := effectiveHost(sni, opt.UpstreamAddr)
			m, err := opt.Certs.Get(host)
			if err != nil {
				return nil, err
			}
			return &m.TLS, nil
		},
	}

	// ALPN offered to the client is min(client-advertised, upstream-selected)
	// per spec invariant: "ALPN of the client-facing session equals ALPN
	// negotiated on the upstream-facing session when an upstream session
	// exists; otherwise a configured default set."
	cfg.GetConfigForClient = func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
		c := cfg.Clone()
		if sess.Server != nil && sess.ALPN != "" {
			for _, want := range chi.SupportedProtos {
				if want == sess.ALPN {
					c.NextProtos = []string{sess.ALPN}
					break
				}
			}
		} else {
			c.NextProtos = intersect(chi.SupportedProtos, opt.DefaultALPN)
		}
		return c, nil
	}

	clientTLS := tls.Server(clientConn, cfg)
	if err := clientTLS.HandshakeContext(ctx); err != nil {
		return nil, protoerr.HandshakeTimeout.Error(err)
	}

	sess.Client = clientTLS
	sess.SNI = sni
	if sess.ALPN == "" {
		sess.ALPN = clientTLS.ConnectionState().NegotiatedProtocol
	}
	return sess, nil
}

func intersect(client, configured []string) []string {
	if len(configured) == 0 {
		return client
	}
	set := make(map[string]bool, len(configured))
	for _, p := range configured {
		set[p] = true
	}
	var out []string
	for _, p := range client {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

// effectiveHost picks the mimic-cache key per spec §4.2 step 3: SNI when
// the client sent one, else the upstream's host (IP literal or name),
// never the downstream client's own remote address.
func effectiveHost(sni, upstreamAddr string) string {
	if sni != "" {
		return sni
	}
	return serverNameFromAddr(upstreamAddr)
}

func serverNameFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
