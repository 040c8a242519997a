package resourcebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintOfStrings hashes an ordered set of strings into one stable
// digest, used for the build cache's secondary-input fingerprint.
func fingerprintOfStrings(vals []string) string {
	sum := sha256.Sum256([]byte(strings.Join(vals, "\x00")))
	return hex.EncodeToString(sum[:])
}
