// Package fingerprint computes the identity of a finding across scans.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Compute returns the lowercase hex SHA-256 identifying the pair
// (templateID, matchedAt). The template id is length-prefixed so that
// separators inside either field cannot make two pairs collide.
func Compute(templateID, matchedAt string) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(templateID))))
	h.Write([]byte{':'})
	h.Write([]byte(templateID))
	h.Write([]byte{':'})
	h.Write([]byte(matchedAt))
	return hex.EncodeToString(h.Sum(nil))
}
