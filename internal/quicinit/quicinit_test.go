package quicinit

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/binary"
	"testing"
)

// TestDeriveInitialKeysRFC9001Vector checks deriveInitialKeys against the
// worked example in RFC 9001 Appendix A.1 (dcid = 8394c8f03e515708).
func TestDeriveInitialKeysRFC9001Vector(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	keys, err := deriveInitialKeys(dcid)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	wantKey, _ := hex.DecodeString("1f369613dd76d5467730efcbe3b1a22d")
	wantIV, _ := hex.DecodeString("fa044b2f42a3fd3b46fb255c")
	wantHP, _ := hex.DecodeString("9f50449e04a0e810283a1e9933adedd2")

	if !bytes.Equal(keys.key, wantKey) {
		t.Fatalf("key mismatch: got %x want %x", keys.key, wantKey)
	}
	if !bytes.Equal(keys.iv, wantIV) {
		t.Fatalf("iv mismatch: got %x want %x", keys.iv, wantIV)
	}
	if !bytes.Equal(keys.hp, wantHP) {
		t.Fatalf("hp mismatch: got %x want %x", keys.hp, wantHP)
	}
}

func encodeVarintTest(v uint64) []byte {
	switch {
	case v <= 0x3f:
		return []byte{byte(v)}
	case v <= 0x3fff:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		b[0] |= 0x40
		return b
	case v <= 0x3fffffff:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		b[0] |= 0x80
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v)
		b[0] |= 0xc0
		return b
	}
}

// buildInitialDatagram assembles a self-consistent encrypted QUIC v1
// Initial packet carrying one CRYPTO frame, using the same key derivation
// and header-protection routines ParseInitial decodes with, so this test
// exercises the full decode path without depending on an externally
// memorized packet capture.
func buildInitialDatagram(t *testing.T, dcid, cryptoData []byte, packetNumber uint64) []byte {
	t.Helper()

	keys, err := deriveInitialKeys(dcid)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	var plaintext bytes.Buffer
	plaintext.WriteByte(0x06) // CRYPTO frame type
	plaintext.Write(encodeVarintTest(0))
	plaintext.Write(encodeVarintTest(uint64(len(cryptoData))))
	plaintext.Write(cryptoData)

	const pnLen = 4
	pnBytes := make([]byte, pnLen)
	binary.BigEndian.PutUint32(pnBytes, uint32(packetNumber))

	var header bytes.Buffer
	header.WriteByte(0xc0 | byte(pnLen-1)) // long header, Initial type, pn length bits
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], 1)
	header.Write(ver[:])
	header.WriteByte(byte(len(dcid)))
	header.Write(dcid)
	header.WriteByte(0) // scid len = 0
	header.Write(encodeVarintTest(0))

	packetLen := uint64(pnLen + plaintext.Len() + 16)
	header.Write(encodeVarintTest(packetLen))
	header.Write(pnBytes)

	headerBytes := header.Bytes()

	block, err := aes.NewCipher(keys.key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	nonce := make([]byte, len(keys.iv))
	copy(nonce, keys.iv)
	var pnFull [8]byte
	binary.BigEndian.PutUint64(pnFull[:], packetNumber)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= pnFull[i]
	}

	ciphertext := aead.Seal(nil, nonce, plaintext.Bytes(), headerBytes)

	datagram := append(append([]byte(nil), headerBytes...), ciphertext...)

	pnOffset := len(headerBytes) - pnLen
	sample := datagram[pnOffset+4 : pnOffset+4+16]
	mask := make([]byte, aes.BlockSize)
	hpBlock, err := aes.NewCipher(keys.hp)
	if err != nil {
		t.Fatalf("hp cipher: %v", err)
	}
	hpBlock.Encrypt(mask, sample)

	datagram[0] ^= mask[0] & 0x0f
	for i := 0; i < pnLen; i++ {
		datagram[pnOffset+i] ^= mask[1+i]
	}

	return datagram
}

func TestParseInitialDecryptsSelfEncodedPacket(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	payload := []byte("clienthello-fragment-0123456789")

	datagram := buildInitialDatagram(t, dcid, payload, 2)

	frames, err := ParseInitial(datagram)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 CRYPTO frame, got %d", len(frames))
	}
	if frames[0].offset != 0 || !bytes.Equal(frames[0].data, payload) {
		t.Fatalf("frame mismatch: %+v", frames[0])
	}
}

func TestParseInitialRejectsShortHeaderPacket(t *testing.T) {
	_, err := ParseInitial([]byte{0x40, 0x01, 0x02})
	if err != ErrNotInitial {
		t.Fatalf("expected ErrNotInitial, got %v", err)
	}
}

// TestClientHelloConsumerOutOfOrderReassembly feeds the offset-0 header
// first, then a fragment at offset 30 ahead of the gap, a fragment at 2..28
// that overlaps the header, the bridging bytes 28..30 and the tail 40..60,
// and checks that they coalesce into the full message.
func TestClientHelloConsumerOutOfOrderReassembly(t *testing.T) {
	full := make([]byte, 60)
	full[0] = 0x01 // client_hello
	full[1], full[2], full[3] = 0, 0, 56

	c := NewClientHelloConsumer()

	// offset 30, before header known would normally be rejected, but by
	// this point in the scenario the header has already arrived via the
	// offset-0 fragment below; feed header first to match the precedence
	// rule (offset-0 must arrive before any out-of-order fragment is kept).
	if err := c.Feed(0, full[0:4]); err != nil {
		t.Fatalf("feed header: %v", err)
	}
	if err := c.Feed(30, full[30:40]); err != nil {
		t.Fatalf("feed oow at 30: %v", err)
	}
	if c.Finished() {
		t.Fatalf("must not be finished before the gap is filled")
	}
	if err := c.Feed(2, full[2:28]); err != nil {
		t.Fatalf("feed oow at 2: %v", err)
	}
	if err := c.Feed(28, full[28:30]); err != nil {
		t.Fatalf("feed bridging fragment: %v", err)
	}
	if err := c.Feed(40, full[40:60]); err != nil {
		t.Fatalf("feed tail: %v", err)
	}
	if !c.Finished() {
		t.Fatalf("expected reassembly to be complete")
	}
	if !bytes.Equal(c.Bytes(), full) {
		t.Fatalf("reassembled buffer mismatch")
	}
}

func TestClientHelloConsumerRejectsOutOfOrderBeforeHeaderKnown(t *testing.T) {
	c := NewClientHelloConsumer()
	if err := c.Feed(10, []byte("late")); err != ErrOutOfOrderFrame {
		t.Fatalf("expected ErrOutOfOrderFrame, got %v", err)
	}
}

func TestClientHelloConsumerRejectsBeyondDeclaredLength(t *testing.T) {
	c := NewClientHelloConsumer()
	header := []byte{0x01, 0, 0, 10} // declares msg_length=10, expectedLength=14
	if err := c.Feed(0, header); err != nil {
		t.Fatalf("feed header: %v", err)
	}
	if err := c.Feed(10, make([]byte, 20)); err != ErrBeyondDeclaredLength {
		t.Fatalf("expected ErrBeyondDeclaredLength, got %v", err)
	}
}

// buildMinimalClientHello constructs a syntactically valid TLS ClientHello
// handshake message carrying only the server_name and ALPN extensions.
func buildMinimalClientHello(t *testing.T, sni string, alpn []string) []byte {
	t.Helper()
	var body bytes.Buffer
	body.Write(make([]byte, 2))  // legacy_version
	body.Write(make([]byte, 32)) // random
	body.WriteByte(0)            // session_id length
	body.Write([]byte{0x00, 0x02, 0x13, 0x01})
	body.WriteByte(1) // compression methods length
	body.WriteByte(0)

	var sniExt bytes.Buffer
	sniExt.Write([]byte{0, 0}) // server_name_list length, filled below
	var entry bytes.Buffer
	entry.WriteByte(0) // host_name
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(sni)))
	entry.Write(l[:])
	entry.WriteString(sni)
	binary.BigEndian.PutUint16(sniExt.Bytes()[0:2], uint16(entry.Len()))
	sniExt.Write(entry.Bytes())

	var alpnExt bytes.Buffer
	var protoList bytes.Buffer
	for _, p := range alpn {
		protoList.WriteByte(byte(len(p)))
		protoList.WriteString(p)
	}
	var pl [2]byte
	binary.BigEndian.PutUint16(pl[:], uint16(protoList.Len()))
	alpnExt.Write(pl[:])
	alpnExt.Write(protoList.Bytes())

	var exts bytes.Buffer
	writeExt := func(typ uint16, data []byte) {
		var h [4]byte
		binary.BigEndian.PutUint16(h[0:2], typ)
		binary.BigEndian.PutUint16(h[2:4], uint16(len(data)))
		exts.Write(h[:])
		exts.Write(data)
	}
	writeExt(0x0000, sniExt.Bytes())
	writeExt(0x0010, alpnExt.Bytes())

	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(exts.Len()))
	body.Write(extLen[:])
	body.Write(exts.Bytes())

	var msg bytes.Buffer
	msg.WriteByte(0x01)
	var mlen [3]byte
	mlen[0] = byte(body.Len() >> 16)
	mlen[1] = byte(body.Len() >> 8)
	mlen[2] = byte(body.Len())
	msg.Write(mlen[:])
	msg.Write(body.Bytes())
	return msg.Bytes()
}

func TestParseClientHelloExtractsSNIAndALPN(t *testing.T) {
	msg := buildMinimalClientHello(t, "example.net", []string{"h2", "http/1.1"})
	info, err := ParseClientHello(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.ServerName != "example.net" {
		t.Fatalf("sni mismatch: %q", info.ServerName)
	}
	if len(info.ALPN) != 2 || info.ALPN[0] != "h2" || info.ALPN[1] != "http/1.1" {
		t.Fatalf("alpn mismatch: %+v", info.ALPN)
	}
}

func TestParseClientHelloTooLarge(t *testing.T) {
	_, err := ParseClientHello(make([]byte, maxClientHelloSize+1))
	if err != ErrClientHelloTooLarge {
		t.Fatalf("expected ErrClientHelloTooLarge, got %v", err)
	}
}
