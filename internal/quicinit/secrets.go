package quicinit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the QUIC v1 initial salt (RFC 9001 §5.2).
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// initialKeys holds the client-direction AEAD key/iv/header-protection key
// derived from one destination connection id (RFC 9001 §5.1-5.4).
type initialKeys struct {
	key []byte
	iv  []byte
	hp  []byte
}

// deriveInitialKeys derives the client-direction initial keys for dcid.
// Only the client direction is needed: the engine only ever decodes the
// ClientHello the proxied client itself sends.
func deriveInitialKeys(dcid []byte) (*initialKeys, error) {
	initialSecret := hkdfExtract(initialSaltV1, dcid)
	clientSecret := hkdfExpandLabel(initialSecret, "client in", nil, sha256.Size)

	key := hkdfExpandLabel(clientSecret, "quic key", nil, 16)
	iv := hkdfExpandLabel(clientSecret, "quic iv", nil, 12)
	hp := hkdfExpandLabel(clientSecret, "quic hp", nil, 16)

	return &initialKeys{key: key, iv: iv, hp: hp}, nil
}

func hkdfExtract(salt, ikm []byte) []byte {
	extractor := hkdf.Extract(sha256.New, ikm, salt)
	out := make([]byte, sha256.Size)
	_, _ = extractor.Read(out)
	return out
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1)
// as reused by QUIC (RFC 9001 §5.1) for "client in"/"quic key"/"quic
// iv"/"quic hp" derivation.
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	full := "tls13 " + label
	info := make([]byte, 0, 2+1+len(full)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	_, _ = r.Read(out)
	return out
}

// removeHeaderProtection unmasks the first byte's packet-number-length
// bits and the packet number field itself (RFC 9001 §5.4), given the
// 16-byte sample taken 4 bytes after the start of the packet number field.
func removeHeaderProtection(hpKey, sample []byte, firstByte *byte, pnBytes []byte) error {
	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return err
	}
	mask := make([]byte, aes.BlockSize)
	block.Encrypt(mask, sample)

	if *firstByte&0x80 != 0 { // long header: 4 mask bits
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	pnLen := int(*firstByte&0x03) + 1
	for i := 0; i < pnLen && i < len(pnBytes); i++ {
		pnBytes[i] ^= mask[1+i]
	}
	return nil
}

// openInitialPayload decrypts an Initial packet's payload with AES-128-GCM
// using keys.key and a nonce formed by XOR-ing keys.iv with the packet
// number (RFC 9001 §5.3).
func openInitialPayload(keys *initialKeys, packetNumber uint64, header, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(keys.key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, len(keys.iv))
	copy(nonce, keys.iv)
	var pnBytes [8]byte
	binary.BigEndian.PutUint64(pnBytes[:], packetNumber)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= pnBytes[i]
	}

	return aead.Open(nil, nonce, ciphertext, header)
}
