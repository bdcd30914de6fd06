// Package checksum provides the content fingerprint used for change
// detection. Identical content always yields an identical digest, so a note
// can be re-synced idempotently from any machine at any time.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data (64 characters).
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
