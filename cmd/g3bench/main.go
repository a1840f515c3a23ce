// Command g3bench is the load-generator binary of spec §1: it opens a pool
// of connections to a target, fires a configurable number of requests
// through internal/benchdriver's fan-out, and reports a latency summary.
// Per spec's Non-goals, a full subcommand/config framework is out of
// scope; this main takes the minimal flags needed to drive the pool and
// histogram the rest of this module already implements.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nabbar/g3relay/internal/benchdriver"
	"github.com/nabbar/g3relay/internal/resolverdrv"
	"github.com/nabbar/g3relay/internal/upstream"
)

func main() {
	target := flag.String("target", "127.0.0.1:8080", "host:port to benchmark")
	resolver := flag.String("resolver", "", "optional DNS server (host:port) to resolve -target's host through")
	requests := flag.Int("n", 100, "total number of requests to send")
	concurrency := flag.Int("c", 10, "number of concurrent workers")
	payload := flag.String("request", "GET / HTTP/1.1\r\nHost: bench\r\nConnection: keep-alive\r\n\r\n", "raw bytes written per request")
	flag.Parse()

	host, portStr, err := net.SplitHostPort(*target)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -target:", err)
		os.Exit(1)
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	ctx := context.Background()
	dial := dialerFor(ctx, host, port, *resolver)

	pool := benchdriver.NewPool(func(ctx context.Context) (net.Conn, error) { return dial(ctx) }, *concurrency)
	defer pool.Close()
	hist := benchdriver.NewHistogram()

	task := func(ctx context.Context, conn net.Conn) error {
		if _, err := conn.Write([]byte(*payload)); err != nil {
			return err
		}
		buf := make([]byte, 4096)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := conn.Read(buf)
		return err
	}

	start := time.Now()
	if err := benchdriver.FanOut(ctx, pool, task, *concurrency, *requests, hist); err != nil {
		fmt.Fprintln(os.Stderr, "fan-out error:", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("requests=%d concurrency=%d elapsed=%s\n", hist.Count(), *concurrency, elapsed)
	fmt.Printf("p50=%s p90=%s p99=%s max=%s\n",
		hist.Quantile(0.5), hist.Quantile(0.9), hist.Quantile(0.99), hist.Quantile(1))
}

// dialerFor builds the per-connection dial function: a direct TCP dial
// when no resolver is configured, or a resolverdrv lookup followed by an
// RFC 8305 happy-eyeballs race via internal/upstream when one is.
func dialerFor(ctx context.Context, host string, port int, resolverAddr string) func(ctx context.Context) (net.Conn, error) {
	if resolverAddr == "" {
		return func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		}
	}

	drv := resolverdrv.New(resolverdrv.Options{Servers: []string{resolverAddr}})
	return func(ctx context.Context) (net.Conn, error) {
		results, err := drv.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		var addrs []net.IP
		for r := range results {
			if r.Err != nil {
				continue
			}
			addrs = append(addrs, r.IPv4...)
			addrs = append(addrs, r.IPv6...)
		}
		var d net.Dialer
		res, err := upstream.Connect(ctx, addrs, port, d.DialContext, upstream.Config{})
		if err != nil {
			return nil, err
		}
		return res.Conn, nil
	}
}
