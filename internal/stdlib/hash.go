package stdlib

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// HashLib provides cryptographic digests plus a fast non-cryptographic
// checksum. The fnv32 hash must never be used for anything security
// sensitive; it exists for cheap content fingerprinting only.
type HashLib struct{}

// Sha256 returns the lowercase hex SHA-256 digest (64 characters).
func (h *HashLib) Sha256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Sha512 returns the lowercase hex SHA-512 digest (128 characters).
func (h *HashLib) Sha512(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fnv32 returns an 8-character hex FNV-1a checksum. Deterministic for
// identical input; collisions are expected at scale.
func (h *HashLib) Fnv32(s string) string {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return fmt.Sprintf("%08x", f.Sum32())
}
