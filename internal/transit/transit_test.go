package transit

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestRunRelaysBothDirections(t *testing.T) {
	clientLocal, clientRemote := net.Pipe()
	upstreamLocal, upstreamRemote := net.Pipe()

	defer clientLocal.Close()
	defer clientRemote.Close()
	defer upstreamLocal.Close()
	defer upstreamRemote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Stats, 1)
	go func() {
		stats, _ := Run(ctx, Sides{
			ClientReader:   clientRemote,
			ClientWriter:   clientRemote,
			UpstreamReader: upstreamRemote,
			UpstreamWriter: upstreamRemote,
		}, Options{IdleCheckInterval: time.Hour, IdleMaxCount: 1000})
		done <- stats
	}()

	go func() {
		_, _ = clientLocal.Write([]byte("hello-upstream"))
	}()
	buf := make([]byte, 32)
	n, err := io.ReadFull(upstreamLocal, buf[:14])
	if err != nil {
		t.Fatalf("upstream did not receive client bytes: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hello-upstream")) {
		t.Fatalf("unexpected upstream bytes: %q", buf[:n])
	}

	go func() {
		_, _ = upstreamLocal.Write([]byte("hello-client"))
	}()
	n, err = io.ReadFull(clientLocal, buf[:12])
	if err != nil {
		t.Fatalf("client did not receive upstream bytes: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hello-client")) {
		t.Fatalf("unexpected client bytes: %q", buf[:n])
	}

	cancel()
	<-done
}

func TestRunBlockPolicyFailsImmediately(t *testing.T) {
	_, err := Run(context.Background(), Sides{}, Options{Policy: PolicyBlock})
	if err == nil {
		t.Fatalf("expected PolicyBlock to fail the transit")
	}
}

func TestRunIdleTimeout(t *testing.T) {
	clientLocal, clientRemote := net.Pipe()
	upstreamLocal, upstreamRemote := net.Pipe()
	defer clientLocal.Close()
	defer clientRemote.Close()
	defer upstreamLocal.Close()
	defer upstreamRemote.Close()

	_, err := Run(context.Background(), Sides{
		ClientReader:   clientRemote,
		ClientWriter:   clientRemote,
		UpstreamReader: upstreamRemote,
		UpstreamWriter: upstreamRemote,
	}, Options{IdleCheckInterval: 10 * time.Millisecond, IdleMaxCount: 2})
	if err == nil {
		t.Fatalf("expected idle timeout error")
	}
}
