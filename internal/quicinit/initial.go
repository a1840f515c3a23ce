package quicinit

import (
	"encoding/binary"
	"errors"
)

// ErrNotInitial is returned when the first datagram is not a QUIC v1
// long-header Initial packet.
var ErrNotInitial = errors.New("quicinit: not a QUIC Initial packet")

// ErrMalformed is returned for any structurally invalid Initial packet.
var ErrMalformed = errors.New("quicinit: malformed packet")

// frameCrypto is one decoded CRYPTO frame (RFC 9000 §19.6).
type frameCrypto struct {
	offset uint64
	data   []byte
}

// Offset returns the frame's byte offset into the reassembled CRYPTO
// stream, for feeding into a ClientHelloConsumer.
func (f frameCrypto) Offset() uint64 { return f.offset }

// Data returns the frame's payload bytes.
func (f frameCrypto) Data() []byte { return f.data }

// ParseInitial decodes the first UDP datagram of a connection attempt,
// returning the CRYPTO frames it carries in on-wire order (spec §4.8:
// "consume CRYPTO frames (possibly out of order)"). Non-Initial or
// non-QUICv1 datagrams return ErrNotInitial so the sniffer's rule 2 can
// fall through cleanly.
func ParseInitial(datagram []byte) ([]frameCrypto, error) {
	if len(datagram) < 7 || datagram[0]&0x80 == 0 {
		return nil, ErrNotInitial
	}
	version := binary.BigEndian.Uint32(datagram[1:5])
	if version != 0x00000001 {
		return nil, ErrNotInitial
	}
	if datagram[0]&0x30 != 0x00 { // long-header packet type bits: 00 = Initial
		return nil, ErrNotInitial
	}

	off := 5
	dcidLen := int(datagram[off])
	off++
	if off+dcidLen > len(datagram) {
		return nil, ErrMalformed
	}
	dcid := append([]byte(nil), datagram[off:off+dcidLen]...)
	off += dcidLen

	if off >= len(datagram) {
		return nil, ErrMalformed
	}
	scidLen := int(datagram[off])
	off++
	off += scidLen
	if off > len(datagram) {
		return nil, ErrMalformed
	}

	tokenLen, noff, err := readVarint(datagram, off)
	if err != nil {
		return nil, ErrMalformed
	}
	off = noff + int(tokenLen)
	if off > len(datagram) {
		return nil, ErrMalformed
	}

	packetLen, noff, err := readVarint(datagram, off)
	if err != nil {
		return nil, ErrMalformed
	}
	off = noff
	pnOffset := off
	if pnOffset+4+16 > len(datagram) {
		return nil, ErrMalformed
	}

	keys, err := deriveInitialKeys(dcid)
	if err != nil {
		return nil, err
	}

	sample := datagram[pnOffset+4 : pnOffset+4+16]
	firstByte := datagram[0]
	pnBytes := append([]byte(nil), datagram[pnOffset:pnOffset+4]...)
	if err := removeHeaderProtection(keys.hp, sample, &firstByte, pnBytes); err != nil {
		return nil, err
	}
	pnLen := int(firstByte&0x03) + 1

	header := append([]byte(nil), datagram[:pnOffset]...)
	header[0] = firstByte
	header = append(header, pnBytes[:pnLen]...)

	var pn uint64
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(pnBytes[i])
	}

	cipherStart := pnOffset + pnLen
	cipherEnd := pnOffset + int(packetLen)
	if cipherEnd > len(datagram) {
		cipherEnd = len(datagram)
	}
	if cipherStart > cipherEnd {
		return nil, ErrMalformed
	}

	plaintext, err := openInitialPayload(keys, pn, header, datagram[cipherStart:cipherEnd])
	if err != nil {
		return nil, err
	}

	return parseFrames(plaintext)
}

// parseFrames walks the decrypted Initial payload for CRYPTO frames,
// skipping PADDING (0x00) and PING (0x01) as the only other frame types
// legal in an Initial packet's ClientHello flight.
func parseFrames(b []byte) ([]frameCrypto, error) {
	var out []frameCrypto
	off := 0
	for off < len(b) {
		typ, noff, err := readVarint(b, off)
		if err != nil {
			return nil, ErrMalformed
		}
		off = noff

		switch typ {
		case 0x00: // PADDING
			continue
		case 0x01: // PING
			continue
		case 0x06: // CRYPTO
			frameOff, noff, err := readVarint(b, off)
			if err != nil {
				return nil, ErrMalformed
			}
			off = noff
			length, noff, err := readVarint(b, off)
			if err != nil {
				return nil, ErrMalformed
			}
			off = noff
			if off+int(length) > len(b) {
				return nil, ErrMalformed
			}
			out = append(out, frameCrypto{offset: frameOff, data: append([]byte(nil), b[off:off+int(length)]...)})
			off += int(length)
		default:
			// Any other frame type ends the CRYPTO-frame scan; an Initial
			// packet carrying the ClientHello never legally needs more.
			return out, nil
		}
	}
	return out, nil
}
