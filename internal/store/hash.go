package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the length in bytes of a content hash.
const HashSize = sha256.Size

// Hash computes the SHA-256 digest of text's UTF-8 bytes.
// This is the content-addressed identity used throughout the store:
// chunks, embeddings, projections, and text rows are all keyed by it.
func Hash(text string) [HashSize]byte {
	return sha256.Sum256([]byte(text))
}

// HashHex renders a hash as a lowercase hex string, used for map keys
// and log fields where a byte array is inconvenient.
func HashHex(h [HashSize]byte) string {
	return hex.EncodeToString(h[:])
}
