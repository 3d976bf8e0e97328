package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes the salted one-way digest stored in the audit trail in
// place of the submitted text. The salt keeps the digest useless for
// dictionary attacks against short CVs.
func Hash(salt, text string) string {
	sum := sha256.Sum256([]byte(salt + text))
	return hex.EncodeToString(sum[:])
}
