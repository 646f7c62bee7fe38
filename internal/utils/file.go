package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

const (
	// HashAlgorithm prefixes every digest so stored hashes stay self-describing
	HashAlgorithm = "sha256"

	// CopyBufferSize is the buffer used for streaming hashes and copies
	CopyBufferSize = 64 * 1024
)

// FileHash streams the file through SHA-256 and returns "sha256:<hex>"
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return ReaderHash(file)
}

// ReaderHash streams r through SHA-256 and returns "sha256:<hex>"
func ReaderHash(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, CopyBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return FormatHash(h), nil
}

// NewHasher returns the hash.Hash matching HashAlgorithm
func NewHasher() hash.Hash {
	return sha256.New()
}

// FormatHash renders the current digest of h as "sha256:<hex>"
func FormatHash(h hash.Hash) string {
	return fmt.Sprintf("%s:%s", HashAlgorithm, hex.EncodeToString(h.Sum(nil)))
}
