package icapclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// startFakeICAP runs a one-shot ICAP responder on loopback TCP that reads
// the whole request then writes resp verbatim.
func startFakeICAP(t *testing.T, resp string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		// drain any chunked body the client sends (best effort, ignores errors)
		buf := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _ = conn.Read(buf)
		conn.SetReadDeadline(time.Time{})

		_, _ = io.WriteString(conn, resp)
	}()
	return ln.Addr().String()
}

func TestAdaptReturnsNoModificationOn204(t *testing.T) {
	addr := startFakeICAP(t, "ICAP/1.0 204 No Content\r\n\r\n")
	c, err := New(Options{ServiceURL: "icap://" + addr + "/reqmod"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	hdr := http.Header{"Host": []string{"example.com"}}
	res, err := c.Adapt(context.Background(), MethodReqmod, hdr, nil, "GET / HTTP/1.1", nil)
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	if res.Outcome != OutcomeNoModification {
		t.Fatalf("expected OutcomeNoModification, got %v", res.Outcome)
	}
}

func TestAdaptReturnsReplacedOn200(t *testing.T) {
	body := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	resp := "ICAP/1.0 200 OK\r\n\r\n" + body
	addr := startFakeICAP(t, resp)

	c, err := New(Options{ServiceURL: "icap://" + addr + "/respmod"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := c.Adapt(context.Background(), MethodRespmod, nil, http.Header{}, "HTTP/1.1 200 OK", strings.NewReader("original body"))
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	if res.Outcome != OutcomeReplaced {
		t.Fatalf("expected OutcomeReplaced, got %v", res.Outcome)
	}
	data, err := io.ReadAll(res.AdaptedBody)
	if err != nil {
		t.Fatalf("read adapted body: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("adapted body mismatch: %q", data)
	}
}

func TestAdaptBypassDowngradesFailure(t *testing.T) {
	c, err := New(Options{ServiceURL: "icap://127.0.0.1:1/unreachable", Bypass: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.Adapt(context.Background(), MethodReqmod, http.Header{}, nil, "GET / HTTP/1.1", nil)
	if err != nil {
		t.Fatalf("bypass should swallow the dial error, got %v", err)
	}
	if res.Outcome != OutcomeNoModification {
		t.Fatalf("expected OutcomeNoModification on bypass, got %v", res.Outcome)
	}
}

func TestAdaptWithoutBypassReturnsInternalAdapterError(t *testing.T) {
	c, err := New(Options{ServiceURL: "icap://127.0.0.1:1/unreachable"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.Adapt(context.Background(), MethodReqmod, http.Header{}, nil, "GET / HTTP/1.1", nil)
	if err == nil {
		t.Fatalf("expected an error without bypass")
	}
}
