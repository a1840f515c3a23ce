// Package sniffer implements the protocol classifier of spec §4.1: it
// peeks the first bytes of a client stream without consuming them and
// produces a SniffingClassification, handing back an OnceBufReader so
// downstream engines see the unconsumed bytes prepended to the stream.
package sniffer

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"
)

// Protocol is the tagged SniffingClassification variant (spec §3).
type Protocol int

const (
	Unknown Protocol = iota
	Tls
	Http1
	Http2
	QuicInitial
	Imap
	Smtp
)

func (p Protocol) String() string {
	switch p {
	case Tls:
		return "tls"
	case Http1:
		return "http1"
	case Http2:
		return "http2-prior-knowledge"
	case QuicInitial:
		return "quic-initial"
	case Imap:
		return "imap-greeting"
	case Smtp:
		return "smtp-greeting"
	default:
		return "unknown"
	}
}

// http2Preface is the 24-byte HTTP/2 connection preface (RFC 7540 §3.5).
const http2Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

var http1Methods = []string{
	"GET ", "POST", "PUT ", "HEAD", "DELE", "OPTI", "PATC", "CONN", "TRAC",
}

// Classification is the result of Sniff: the detected protocol plus an
// OnceBufReader so the peeked bytes are not lost.
type Classification struct {
	Protocol Protocol
	Reader   *OnceBufReader
}

// OnceBufReader prepends previously peeked bytes to an underlying reader
// (spec §4.1: "Sniff returns a OnceBufReader containing the unconsumed
// peeked bytes and the underlying reader so downstream engines see the
// original stream").
type OnceBufReader struct {
	buf  []byte
	r    io.Reader
	done bool
}

func newOnceBufReader(peeked []byte, r io.Reader) *OnceBufReader {
	return &OnceBufReader{buf: peeked, r: r}
}

func (o *OnceBufReader) Read(p []byte) (int, error) {
	if !o.done {
		if len(o.buf) == 0 {
			o.done = true
		} else {
			n := copy(p, o.buf)
			o.buf = o.buf[n:]
			if len(o.buf) == 0 {
				o.done = true
			}
			return n, nil
		}
	}
	return o.r.Read(p)
}

// IsUDP reports whether the accepted stream arrived over UDP, needed by
// rule 2 (attempt QUIC Initial parse only for UDP-origin streams).
type IsUDP bool

// QuicProbe is injected by the caller so this package does not need to
// import internal/quicinit directly; it receives the first datagram and
// reports whether it parses as a QUIC Initial packet.
type QuicProbe func(datagram []byte) bool

// Sniff classifies r per spec §4.1's ordered rules. timeout bounds the
// whole peek; expiry yields Unknown with whatever bytes were read. udp
// carries the first pre-read datagram when the stream is UDP-origin
// (quicProbe only runs in that case); for TCP-origin streams pass nil/false.
func Sniff(r io.Reader, timeout time.Duration, udp bool, firstDatagram []byte, quicProbe QuicProbe) (*Classification, error) {
	type result struct {
		peek []byte
		err  error
	}
	done := make(chan result, 1)

	br := bufio.NewReaderSize(r, 4096)
	go func() {
		b, err := br.Peek(24)
		if err != nil && len(b) == 0 {
			done <- result{nil, err}
			return
		}
		done <- result{append([]byte(nil), b...), nil}
	}()

	var peeked []byte
	select {
	case res := <-done:
		if res.err != nil && len(res.peek) == 0 {
			peeked = drainBuffered(br)
			return &Classification{Protocol: Unknown, Reader: newOnceBufReader(peeked, r)}, nil
		}
		peeked = res.peek
	case <-time.After(timeout):
		peeked = drainBuffered(br)
		return &Classification{Protocol: Unknown, Reader: newOnceBufReader(peeked, r)}, nil
	}

	proto := classify(peeked, udp, firstDatagram, quicProbe)
	return &Classification{Protocol: proto, Reader: newOnceBufReader(drainBuffered(br), r)}, nil
}

func drainBuffered(br *bufio.Reader) []byte {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	b, _ := br.Peek(n)
	return append([]byte(nil), b...)
}

func classify(peeked []byte, udp bool, firstDatagram []byte, quicProbe QuicProbe) Protocol {
	// Rule 1: TLS/TLCP record header.
	if len(peeked) >= 2 && peeked[0] == 0x16 && (peeked[1] == 0x03 || peeked[1] == 0x01) {
		return Tls
	}

	// Rule 2: UDP-origin streams attempt a QUIC Initial parse first.
	if udp && quicProbe != nil && quicProbe(firstDatagram) {
		return QuicInitial
	}

	// Rule 3: the first four bytes match the start of a known HTTP/1 method.
	if len(peeked) >= 4 {
		for _, m := range http1Methods {
			if bytes.HasPrefix(peeked, []byte(m)) {
				return Http1
			}
		}
	}

	// Rule 4: HTTP/2 connection preface (24 bytes).
	if len(peeked) >= 24 && string(peeked[:24]) == http2Preface {
		return Http2
	}

	// Rule 5: IMAP greeting ("* OK" from upstream) or a client tagged
	// command prefix ("<tag> ").
	if looksLikeImap(peeked) {
		return Imap
	}

	if looksLikeSmtp(peeked) {
		return Smtp
	}

	return Unknown
}

func looksLikeImap(peeked []byte) bool {
	if len(peeked) >= 4 && strings.EqualFold(string(peeked[:4]), "* OK") {
		return true
	}
	// a client tagged command is "<nonspace-tag> <VERB>"; require a
	// plausible short alnum tag followed by a space to avoid matching
	// arbitrary binary streams.
	sp := bytes.IndexByte(peeked, ' ')
	if sp <= 0 || sp > 16 {
		return false
	}
	for _, c := range peeked[:sp] {
		if !isTagByte(c) {
			return false
		}
	}
	return true
}

func isTagByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func looksLikeSmtp(peeked []byte) bool {
	return len(peeked) >= 4 && strings.EqualFold(string(peeked[:4]), "220 ")
}
