package quicinit

import (
	"encoding/binary"
	"errors"
	"sort"
)

// ErrOutOfOrderFrame matches the g3 original's rejection of an
// out-of-order fragment arriving before the handshake header is known
// (original_source lib/g3-dpi/src/parser/quic/frame/crypto.rs, see
// SPEC_FULL.md §12): "without the handshake header, only an offset-0 frame
// may arrive first."
var ErrOutOfOrderFrame = errors.New("quicinit: out-of-order CRYPTO frame before handshake header is known")

// ErrBeyondDeclaredLength rejects a fragment reaching past the TLS
// handshake message's declared length (spec §4.8 precondition).
var ErrBeyondDeclaredLength = errors.New("quicinit: CRYPTO frame beyond declared handshake length")

// fragment is one out-of-order CRYPTO frame buffered until it becomes
// contiguous with the filled prefix.
type fragment struct {
	offset uint64
	data   []byte
}

// ClientHelloConsumer reassembles CRYPTO frames into a contiguous
// ClientHello buffer, reproducing the original's exact state machine
// (SPEC_FULL.md §12): out-of-order fragments arriving before the handshake
// message header is known (and hence before expectedLength is known) are
// rejected outright rather than buffered; once the header is known, out-of-order
// fragments are tracked, sorted, and coalesced into unfilledOffset on every
// new contiguous fill.
type ClientHelloConsumer struct {
	buf            []byte
	unfilledOffset uint64
	expectedLength uint64 // msg_length + 4 (the TLS handshake header itself)
	headerKnown    bool
	oow            []fragment // out-of-order, not yet contiguous
}

// NewClientHelloConsumer builds an empty consumer.
func NewClientHelloConsumer() *ClientHelloConsumer {
	return &ClientHelloConsumer{}
}

// Feed ingests one CRYPTO frame's (offset, data). Frames are accepted in
// any arrival order once the handshake header is known; before that, the
// first frame must be at offset 0 and each further frame must continue
// directly after the bytes already buffered (spec §4.8 preconditions).
func (c *ClientHelloConsumer) Feed(offset uint64, data []byte) error {
	if !c.headerKnown {
		if offset != c.unfilledOffset {
			return ErrOutOfOrderFrame
		}
		if c.unfilledOffset+uint64(len(data)) < 4 {
			// not enough bytes yet to learn msg_length; buffer them and
			// wait for more contiguous data before parsing the header.
			c.fillAt(offset, data)
			return nil
		}
		hdr := append(append([]byte(nil), c.buf[:c.unfilledOffset]...), data...)
		msgLen := uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
		c.expectedLength = uint64(msgLen) + 4
		c.headerKnown = true
	}

	if offset+uint64(len(data)) > c.expectedLength {
		return ErrBeyondDeclaredLength
	}

	if offset == c.unfilledOffset {
		c.fillAt(offset, data)
		c.absorbContiguousOOW()
		return nil
	}

	if offset < c.unfilledOffset {
		// overlaps already-filled region; trim and fill the new tail only.
		skip := c.unfilledOffset - offset
		if skip >= uint64(len(data)) {
			return nil
		}
		c.fillAt(c.unfilledOffset, data[skip:])
		c.absorbContiguousOOW()
		return nil
	}

	c.oow = append(c.oow, fragment{offset: offset, data: append([]byte(nil), data...)})
	sort.Slice(c.oow, func(i, j int) bool { return c.oow[i].offset < c.oow[j].offset })
	return nil
}

func (c *ClientHelloConsumer) fillAt(offset uint64, data []byte) {
	end := offset + uint64(len(data))
	if end > uint64(len(c.buf)) {
		grown := make([]byte, end)
		copy(grown, c.buf)
		c.buf = grown
	}
	copy(c.buf[offset:end], data)
	if end > c.unfilledOffset {
		c.unfilledOffset = end
	}
}

// absorbContiguousOOW folds any buffered out-of-order fragments that have
// become contiguous with unfilledOffset into the main buffer, repeating
// until no more fragments are absorbable (spec §8 round-trip property).
func (c *ClientHelloConsumer) absorbContiguousOOW() {
	for {
		progressed := false
		for i, f := range c.oow {
			if f.offset > c.unfilledOffset {
				continue
			}
			c.fillAt(f.offset, f.data)
			c.oow = append(c.oow[:i], c.oow[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			return
		}
	}
}

// Finished reports whether the full declared handshake message has been
// reassembled (spec §8: "once finished() returns true").
func (c *ClientHelloConsumer) Finished() bool {
	return c.headerKnown && c.unfilledOffset >= c.expectedLength
}

// Bytes returns the reassembled buffer, valid once Finished reports true.
func (c *ClientHelloConsumer) Bytes() []byte {
	if uint64(len(c.buf)) > c.expectedLength {
		return c.buf[:c.expectedLength]
	}
	return c.buf
}

// ClientHelloInfo is the extracted result of spec §4.8's final step.
type ClientHelloInfo struct {
	ServerName string
	ALPN       []string
}

// ErrClientHelloTooLarge matches spec §8's boundary: "A ClientHello larger
// than 16384 bytes is rejected."
var ErrClientHelloTooLarge = errors.New("quicinit: ClientHello exceeds 16384 bytes")

const maxClientHelloSize = 16384

// ParseClientHello extracts the SNI and ALPN extensions from a TLS
// handshake message buffer (type=ClientHello, as produced by
// ClientHelloConsumer.Bytes once Finished).
func ParseClientHello(msg []byte) (*ClientHelloInfo, error) {
	if len(msg) > maxClientHelloSize {
		return nil, ErrClientHelloTooLarge
	}
	if len(msg) < 4 || msg[0] != 0x01 { // handshake type 1 = client_hello
		return nil, ErrMalformed
	}
	body := msg[4:]

	off := 0
	// legacy_version(2) + random(32)
	off += 2 + 32
	if off >= len(body) {
		return nil, ErrMalformed
	}
	// session_id
	sidLen := int(body[off])
	off++
	off += sidLen
	if off+2 > len(body) {
		return nil, ErrMalformed
	}
	// cipher_suites
	csLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2 + csLen
	if off >= len(body) {
		return nil, ErrMalformed
	}
	// compression_methods
	cmLen := int(body[off])
	off++
	off += cmLen
	if off+2 > len(body) {
		return &ClientHelloInfo{}, nil // no extensions present
	}
	extLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	end := off + extLen
	if end > len(body) {
		end = len(body)
	}

	info := &ClientHelloInfo{}
	for off+4 <= end {
		extType := binary.BigEndian.Uint16(body[off : off+2])
		l := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		off += 4
		if off+l > end {
			break
		}
		ext := body[off : off+l]
		switch extType {
		case 0x0000: // server_name
			info.ServerName = parseSNIExtension(ext)
		case 0x0010: // application_layer_protocol_negotiation
			info.ALPN = parseALPNExtension(ext)
		}
		off += l
	}

	return info, nil
}

func parseSNIExtension(ext []byte) string {
	if len(ext) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(ext[0:2]))
	pos := 2
	end := 2 + listLen
	if end > len(ext) {
		end = len(ext)
	}
	for pos+3 <= end {
		nameType := ext[pos]
		nameLen := int(binary.BigEndian.Uint16(ext[pos+1 : pos+3]))
		pos += 3
		if pos+nameLen > end {
			break
		}
		if nameType == 0 { // host_name
			return string(ext[pos : pos+nameLen])
		}
		pos += nameLen
	}
	return ""
}

func parseALPNExtension(ext []byte) []string {
	if len(ext) < 2 {
		return nil
	}
	listLen := int(binary.BigEndian.Uint16(ext[0:2]))
	pos := 2
	end := 2 + listLen
	if end > len(ext) {
		end = len(ext)
	}
	var out []string
	for pos < end {
		l := int(ext[pos])
		pos++
		if pos+l > end {
			break
		}
		out = append(out, string(ext[pos:pos+l]))
		pos += l
	}
	return out
}
