package wsengine

import (
	"bytes"
	"context"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{Fin: true, Opcode: OpText, Payload: []byte("hello world")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := ReadFrame(&buf, Options{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out.Payload) != "hello world" || out.Opcode != OpText || !out.Fin {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestFrameExceedsMaxSize(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{Fin: true, Opcode: OpBinary, Payload: make([]byte, 1000)}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := ReadFrame(&buf, Options{MaxFrameSize: 100})
	if err == nil {
		t.Fatalf("expected ResourceExhausted for an oversized frame")
	}
}

func TestPongMirrorsPingPayload(t *testing.T) {
	ping := &Frame{Fin: true, Opcode: OpPing, Payload: []byte("ABCD")}
	pong := Pong(ping)
	if pong.Opcode != OpPong || string(pong.Payload) != "ABCD" {
		t.Fatalf("expected Pong with identical payload, got %+v", pong)
	}
}

func TestRelayServerProxyDoesNotDuplicatePong(t *testing.T) {
	var src bytes.Buffer
	ping := &Frame{Fin: true, Opcode: OpPing, Payload: []byte("ABCD")}
	if err := WriteFrame(&src, ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var dst bytes.Buffer
	if err := Relay(context.Background(), &dst, &src, RelayOptions{Role: RoleServerProxy}); err != nil {
		t.Fatalf("relay: %v", err)
	}

	out, err := ReadFrame(&dst, Options{})
	if err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}
	if out.Opcode != OpPing {
		t.Fatalf("expected the Ping itself to be forwarded, got opcode %d", out.Opcode)
	}
	if dst.Len() != 0 {
		t.Fatalf("expected no additional Pong written by the server-proxy role")
	}
}

func TestComputeAcceptKeyRFC6455Example(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
