package diff

import (
	"crypto/sha256"
	"encoding/hex"
)

// fieldHash computes the canonical SHA-256 digest of a listing's tracked
// fields, restricted to trackedFields and sorted by key before hashing so
// field reordering or untracked-field drift never changes the hash.
func fieldHash(fields map[string]any, trackedFields []string) string {
	restricted := make(map[string]any, len(trackedFields))
	for _, f := range trackedFields {
		restricted[f] = fields[f] // nil when absent: a tracked-but-unset field still participates in the hash
	}
	sum := sha256.Sum256([]byte(canonicalJSON(restricted)))
	return hex.EncodeToString(sum[:])
}
