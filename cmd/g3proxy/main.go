// Command g3proxy is the forward/reverse proxy binary of spec §1: it binds
// one TCP listener, accepts connections, and hands each one to
// internal/engine for sniffing, optional TLS interception, and protocol
// dispatch. Per spec's Non-goals, config-file loading and the
// production-grade listener lifecycle (reload, graceful drain) are out of
// scope; this main wires the minimal accept loop that exercises the
// handoff the rest of this module implements, grounded on the teacher's
// server/startstop.go task shape (accept loop inside a cancelable
// goroutine, errors surfaced through logx rather than panicking).
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nabbar/g3relay/internal/certmint"
	"github.com/nabbar/g3relay/internal/engine"
	"github.com/nabbar/g3relay/internal/logx"
	"github.com/nabbar/g3relay/internal/netcfg"
	"github.com/nabbar/g3relay/internal/quicinit"
	"github.com/nabbar/g3relay/internal/taskctx"
	"github.com/nabbar/g3relay/logger"
)

type quitPolicy struct{ done <-chan struct{} }

func (q quitPolicy) Done() <-chan struct{} { return q.done }

func main() {
	listen := flag.String("listen", "127.0.0.1:13128", "address to accept client connections on")
	udpListen := flag.String("quic-listen", "", "optional UDP address to sniff QUIC Initial packets on")
	backend := flag.String("backend", "127.0.0.1:8080", "fixed upstream address")
	mitmCert := flag.String("mitm-cert", "", "PEM file for the MITM CA certificate")
	mitmKey := flag.String("mitm-key", "", "PEM file for the MITM CA private key")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.New(logger.New(ctx))
	cfg := netcfg.Default()

	var certs *certmint.Cache
	if *mitmCert != "" && *mitmKey != "" {
		certPEM, err := os.ReadFile(*mitmCert)
		if err != nil {
			log.Errorf(err, "reading mitm certificate")
			os.Exit(1)
		}
		keyPEM, err := os.ReadFile(*mitmKey)
		if err != nil {
			log.Errorf(err, "reading mitm key")
			os.Exit(1)
		}
		issuer, err := certmint.NewIssuer(certPEM, keyPEM)
		if err != nil {
			log.Errorf(err, "parsing mitm ca pair")
			os.Exit(1)
		}
		certs = certmint.NewCache(issuer, 4096)
	}

	srv := &engine.Server{
		Certs: certs,
		Backend: engine.Backend{
			Dial: engine.DialTCP(*backend),
			Addr: *backend,
		},
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Errorf(err, "listen")
		os.Exit(1)
	}
	defer ln.Close()

	if *udpListen != "" {
		go sniffQUIC(ctx, *udpListen, log)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf(err, "accept")
			continue
		}
		go func(c net.Conn) {
			ic := taskctx.New(ctx, cfg, quitPolicy{ctx.Done()}, nil, log)
			if err := srv.HandleConn(ic, c); err != nil {
				log.Errorf(err, "handle connection")
			}
		}(conn)
	}
}

// sniffQUIC reads UDP datagrams and decodes enough of each connection's
// first Initial packet to log the negotiated SNI/ALPN (spec §4.8); full
// QUIC datagram forwarding is the escaper's concern and is out of scope
// here, matching the way this binary treats QUIC as a classification
// target rather than a terminated protocol.
func sniffQUIC(ctx context.Context, addr string, log *logx.Logger) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		log.Errorf(err, "quic udp listen")
		return
	}
	defer pc.Close()

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	consumers := map[string]*quicinit.ClientHelloConsumer{}
	buf := make([]byte, 2048)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		frames, err := quicinit.ParseInitial(buf[:n])
		if err != nil {
			continue
		}
		c, ok := consumers[peer.String()]
		if !ok {
			c = quicinit.NewClientHelloConsumer()
			consumers[peer.String()] = c
		}
		for _, f := range frames {
			_ = c.Feed(f.Offset(), f.Data())
		}
		if c.Finished() {
			info, err := quicinit.ParseClientHello(c.Bytes())
			delete(consumers, peer.String())
			if err != nil {
				continue
			}
			log.Infof("quic initial from %s: sni=%s alpn=%v", peer.String(), info.ServerName, info.ALPN)
		}
	}
}
