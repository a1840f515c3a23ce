package resolverdrv

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startStubServer runs a minimal authoritative UDP DNS server on loopback
// answering A/AAAA for "example.test." and returns its address.
func startStubServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc("example.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch q.Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR("example.test. 60 IN A 203.0.113.7")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			rr, _ := dns.NewRR("example.test. 60 IN AAAA 2001:db8::7")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolveReturnsBothPhases(t *testing.T) {
	addr := startStubServer(t)
	d := New(Options{Servers: []string{addr}, Timeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := d.Resolve(ctx, "example.test")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var results []Result
	for r := range ch {
		results = append(results, r)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(results))
	}

	var sawV4, sawV6 bool
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error in phase %v: %v", r.Phase, r.Err)
		}
		if len(r.IPv4) == 1 && r.IPv4[0].String() == "203.0.113.7" {
			sawV4 = true
		}
		if len(r.IPv6) == 1 && r.IPv6[0].String() == "2001:db8::7" {
			sawV6 = true
		}
	}
	if !sawV4 || !sawV6 {
		t.Fatalf("expected one phase with v4 and one with v6, got %+v", results)
	}
}

func TestResolveRequiresServers(t *testing.T) {
	d := New(Options{})
	_, err := d.Resolve(context.Background(), "example.test")
	if err != errNoServers {
		t.Fatalf("expected errNoServers, got %v", err)
	}
}
