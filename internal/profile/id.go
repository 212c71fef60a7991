package profile

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// IDLength is the number of hex characters kept from the content digest.
const IDLength = 8

// HashID derives a content-addressed id by stream-hashing r with SHA-256 and
// truncating the hex digest.
func HashID(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:IDLength], nil
}

// RandomSuffix returns 4 hex characters of entropy for collision fallback.
func RandomSuffix() string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is in far worse trouble
		// than an id collision.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// UniqueID resolves candidate against the known-id set, appending random
// suffixes until it is free. suffix defaults to RandomSuffix and is
// injectable so collision handling stays deterministic under test.
func UniqueID(candidate string, known map[string]struct{}, suffix func() string) string {
	if suffix == nil {
		suffix = RandomSuffix
	}
	id := candidate
	for {
		if _, taken := known[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%s", candidate, suffix())
	}
}
