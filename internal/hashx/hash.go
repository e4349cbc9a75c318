// Package hashx provides the reproducible content hashes used for entry
// identity. All hashes are hex-encoded SHA-256.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Text hashes a string.
func Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Bytes hashes a byte slice.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// File hashes the contents of a file on disk.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
