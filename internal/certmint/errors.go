package certmint

import (
	"crypto/sha1" // #nosec G505 -- SubjectKeyId derivation, not a security boundary
	"errors"
)

var errNotSigner = errors.New("certmint: CA private key does not implement crypto.Signer")

func sha1Sum(b []byte) [20]byte {
	return sha1.Sum(b)
}
