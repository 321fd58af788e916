package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint hashes the normalized request text together with the catalog
// version. Cached route decisions keyed on it go stale the moment the
// catalog mutates, without any explicit invalidation traffic.
func Fingerprint(text string, catalogVersion uint64) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", normalized, catalogVersion)))
	return hex.EncodeToString(sum[:])
}
