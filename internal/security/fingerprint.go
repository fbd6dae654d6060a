package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
)

// Fingerprint derives the binding value that ties a credential to its
// session, device, and originating network address. The same inputs always
// produce the same value, in any process, so issuance and verification can
// compare without shared state. Inputs are length-prefixed before hashing so
// no pair of distinct input triples can collide by concatenation.
func Fingerprint(sessionID, deviceID, networkAddress string) string {
	h := sha256.New()
	for _, part := range []string{sessionID, deviceID, networkAddress} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintEqual performs constant-time comparison of two binding values.
func FingerprintEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
