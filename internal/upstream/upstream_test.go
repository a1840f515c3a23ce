package upstream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestConnectReturnsFirstSuccess(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	addrs := []net.IP{net.ParseIP("127.0.0.1")}
	port := ln.Addr().(*net.TCPAddr).Port

	res, err := Connect(context.Background(), addrs, port, nil, Config{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer res.Conn.Close()
	if res.Tries != 1 {
		t.Fatalf("expected 1 try, got %d", res.Tries)
	}
}

func TestConnectFallsBackToSecondAddressAfterDelay(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	dead := net.ParseIP("203.0.113.255") // TEST-NET-3, never reachable
	addrs := []net.IP{dead, net.ParseIP("127.0.0.1")}

	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if network == "tcp4" && address == net.JoinHostPort(dead.String(), itoa(port)) {
			<-ctx.Done()
			return nil, errors.New("simulated unreachable")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}

	res, err := Connect(context.Background(), addrs, port, dial, Config{ConnectionAttemptDelay: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer res.Conn.Close()
	if res.Tries < 2 {
		t.Fatalf("expected the connector to have tried the second address, got %d tries", res.Tries)
	}
}

func TestConnectFailsWhenNoAddresses(t *testing.T) {
	_, err := Connect(context.Background(), nil, 80, nil, Config{})
	if err != ErrNoAddresses {
		t.Fatalf("expected ErrNoAddresses, got %v", err)
	}
}
