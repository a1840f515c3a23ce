package sniffer

import (
	"strings"
	"testing"
	"time"
)

func mustSniff(t *testing.T, data string) *Classification {
	t.Helper()
	c, err := Sniff(strings.NewReader(data), time.Second, false, nil, nil)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	return c
}

func TestSniffTLS(t *testing.T) {
	c := mustSniff(t, "\x16\x03\x01\x00\x05hello")
	if c.Protocol != Tls {
		t.Fatalf("got %v, want Tls", c.Protocol)
	}
}

func TestSniffHTTP1(t *testing.T) {
	c := mustSniff(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if c.Protocol != Http1 {
		t.Fatalf("got %v, want Http1", c.Protocol)
	}
}

func TestSniffHTTP2Preface(t *testing.T) {
	c := mustSniff(t, "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
	if c.Protocol != Http2 {
		t.Fatalf("got %v, want Http2", c.Protocol)
	}
}

func TestSniffImapGreeting(t *testing.T) {
	c := mustSniff(t, "* OK IMAP4rev1 Service Ready\r\n")
	if c.Protocol != Imap {
		t.Fatalf("got %v, want Imap", c.Protocol)
	}
}

func TestSniffImapTaggedCommand(t *testing.T) {
	c := mustSniff(t, "A001 LOGIN user pass\r\n")
	if c.Protocol != Imap {
		t.Fatalf("got %v, want Imap", c.Protocol)
	}
}

func TestSniffUnknownPreservesBytes(t *testing.T) {
	data := "\x01\x02\x03\x04garbage-bytes-follow"
	c := mustSniff(t, data)
	if c.Protocol != Unknown {
		t.Fatalf("got %v, want Unknown", c.Protocol)
	}
	buf := make([]byte, len(data))
	n, _ := c.Reader.Read(buf)
	if string(buf[:n]) != data[:n] {
		t.Fatalf("OnceBufReader did not preserve peeked bytes: got %q", buf[:n])
	}
}

func TestSniffQuicInitialRequiresUDPAndProbe(t *testing.T) {
	called := false
	probe := func(b []byte) bool { called = true; return true }
	c, err := Sniff(strings.NewReader("anything"), time.Second, true, []byte{1, 2, 3}, probe)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if !called {
		t.Fatalf("expected quicProbe to be invoked for a UDP-origin stream")
	}
	if c.Protocol != QuicInitial {
		t.Fatalf("got %v, want QuicInitial", c.Protocol)
	}
}
