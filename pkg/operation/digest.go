package operation

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest returns the xxhash64 of an encoded message. Publishers attach it to
// outgoing messages so receivers can spot corrupted or re-delivered bodies.
func Digest(body []byte) uint64 {
	return xxhash.Sum64(body)
}

// DigestString is Digest rendered as fixed-width lowercase hex.
func DigestString(body []byte) string {
	return fmt.Sprintf("%016x", Digest(body))
}

// VerifyDigest reports whether body matches a digest produced by DigestString.
// An empty digest is treated as "not provided" and always verifies.
func VerifyDigest(body []byte, digest string) bool {
	if digest == "" {
		return true
	}
	return DigestString(body) == digest
}
