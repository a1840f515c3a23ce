package thriftmux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nabbar/g3relay/internal/framing"
)

func TestMuxDeliversToCorrectSeqID(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	mux := New(local, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mux.Run(ctx)

	// fake upstream: echo back a response frame for seq 42 regardless of
	// what was asked, to exercise seq-id correlation rather than payload
	// semantics (out of scope here).
	go func() {
		hdr := make([]byte, 8)
		if _, err := readFull(remote, hdr); err != nil {
			return
		}
		resp := []byte{9, 9, 9}
		out := make([]byte, 8+len(resp))
		framing.PutUint32(out[0:4], uint32(len(resp)+4))
		framing.PutUint32(out[4:8], 42)
		copy(out[8:], resp)
		_, _ = remote.Write(out)
	}()

	if err := mux.Send(ctx, &Request{SeqID: 42, Payload: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	data, err := mux.Await(ctx, 42)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if len(data) != 3 || data[0] != 9 {
		t.Fatalf("unexpected response payload: %v", data)
	}
}

func TestMuxDropsUnknownSeqIDWithoutAborting(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	mux := New(local, 8)
	// deliver directly, bypassing the network loop, to test the routing
	// table in isolation.
	mux.deliver(999, []byte("orphan"), nil)

	select {
	case <-time.After(20 * time.Millisecond):
	}
	mux.mu.Lock()
	n := len(mux.slots)
	mux.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no slot to be created for an unawaited seq-id")
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
