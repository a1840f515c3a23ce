// Package quicinit implements the QUIC Initial packet parser of spec §4.8:
// decode the long header, remove header protection, decrypt with the QUIC
// v1 initial keys derived from the destination connection id, reassemble
// CRYPTO frames (possibly out of order) via a ClientHelloConsumer, and
// finally parse the embedded TLS ClientHello for SNI/ALPN. This package
// only needs to peek the first Initial packet's ClientHello, never to
// drive a full QUIC connection, so the wire-format varint/frame/key
// derivation below is implemented directly against RFC 9000/9001 rather
// than pulled from a full QUIC transport implementation.
package quicinit

import "errors"

// ErrShortBuffer is returned when a varint or length-prefixed field would
// read past the end of the supplied buffer.
var ErrShortBuffer = errors.New("quicinit: short buffer")

// readVarint decodes a QUIC variable-length integer (RFC 9000 §16) from
// b[off:], returning the value, the new offset, and an error on underrun.
func readVarint(b []byte, off int) (uint64, int, error) {
	if off >= len(b) {
		return 0, off, ErrShortBuffer
	}
	first := b[off]
	length := 1 << (first >> 6)
	if off+length > len(b) {
		return 0, off, ErrShortBuffer
	}

	v := uint64(first & 0x3f)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(b[off+i])
	}
	return v, off + length, nil
}

// varintLen reports how many bytes encoding v requires.
func varintLen(v uint64) int {
	switch {
	case v <= 0x3f:
		return 1
	case v <= 0x3fff:
		return 2
	case v <= 0x3fffffff:
		return 4
	default:
		return 8
	}
}
