// Command g3tiles is the TLS-terminating stream router of spec §1: unlike
// g3proxy it does not sniff or run a protocol engine, it terminates TLS
// against a mimic certificate and relays the plaintext bytes to a fixed
// backend (spec §4.2's MITM handshake, minus the protocol dispatch step).
// Grounded on the same accept-loop shape as cmd/g3proxy.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nabbar/g3relay/internal/certmint"
	"github.com/nabbar/g3relay/internal/logx"
	"github.com/nabbar/g3relay/internal/netcfg"
	"github.com/nabbar/g3relay/internal/taskctx"
	"github.com/nabbar/g3relay/internal/tlsadaptor"
	"github.com/nabbar/g3relay/internal/transit"
	"github.com/nabbar/g3relay/logger"
)

type quitPolicy struct{ done <-chan struct{} }

func (q quitPolicy) Done() <-chan struct{} { return q.done }

func main() {
	listen := flag.String("listen", "127.0.0.1:13443", "address to accept client TLS connections on")
	backend := flag.String("backend", "127.0.0.1:8443", "fixed plaintext backend address")
	caCert := flag.String("ca-cert", "", "PEM file for the mimic CA certificate")
	caKey := flag.String("ca-key", "", "PEM file for the mimic CA private key")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.New(logger.New(ctx))
	cfg := netcfg.Default()

	certPEM, err := os.ReadFile(*caCert)
	if err != nil {
		log.Errorf(err, "reading ca certificate")
		os.Exit(1)
	}
	keyPEM, err := os.ReadFile(*caKey)
	if err != nil {
		log.Errorf(err, "reading ca key")
		os.Exit(1)
	}
	issuer, err := certmint.NewIssuer(certPEM, keyPEM)
	if err != nil {
		log.Errorf(err, "parsing ca pair")
		os.Exit(1)
	}
	certs := certmint.NewCache(issuer, 4096)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Errorf(err, "listen")
		os.Exit(1)
	}
	defer ln.Close()

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
		go route(ctx, conn, cfg, certs, *backend, log)
	}
}

func route(ctx context.Context, client net.Conn, cfg netcfg.Config, certs *certmint.Cache, backend string, log *logx.Logger) {
	defer client.Close()
	ic := taskctx.New(ctx, cfg, quitPolicy{ctx.Done()}, nil, log)

	sess, err := tlsadaptor.Establish(ic.Context(), client, tlsadaptor.Options{
		Certs:       certs,
		DefaultALPN: []string{"h2", "http/1.1"},
	})
	if err != nil {
		log.Errorf(err, "tls handshake")
		return
	}
	defer sess.Client.Close()

	var d net.Dialer
	up, err := d.DialContext(ic.Context(), "tcp", backend)
	if err != nil {
		log.Errorf(err, "dial backend")
		return
	}
	defer up.Close()

	if _, err := transit.Run(ic.Context(), transit.Sides{
		ClientReader:   sess.Client,
		ClientWriter:   sess.Client,
		UpstreamReader: up,
		UpstreamWriter: up,
	}, transit.Options{
		IdleCheckInterval: cfg.TaskIdleCheckInterval,
		IdleMaxCount:      cfg.TaskIdleMaxCount,
		Log:               log,
	}); err != nil {
		log.Errorf(err, "transit")
	}
}
