package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashBytes returns the hex SHA-256 of data. Used as the content hash of
// uploaded PDFs for duplicate detection and markdown/embedding cache keys.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a stable chunk id from the document, the chunk's position
// and the first 64 normalized characters of its text. The same (document,
// content) pair always yields the same id, which keeps vector upserts
// idempotent across re-ingests.
func ChunkID(documentID string, ordinal int, text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if len(norm) > 64 {
		norm = norm[:64]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", documentID, ordinal, norm)))
	return hex.EncodeToString(sum[:16])
}

// EmbedCacheKey identifies a computed embedding on disk. It covers the
// document, the chunk ordinal and a text prefix so edited content never
// reuses a stale vector.
func EmbedCacheKey(documentID string, ordinal int, text string) string {
	prefix := text
	if len(prefix) > 500 {
		prefix = prefix[:500]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", documentID, ordinal, prefix)))
	return hex.EncodeToString(sum[:])
}

func GenerateSecureRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bytes := make([]byte, length)

	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %v", err)
	}

	for i, b := range bytes {
		bytes[i] = charset[b%byte(len(charset))]
	}

	return string(bytes), nil
}

// SafeFilename strips path separators and whitespace so a user-supplied
// filename can be embedded into a blob object key.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	name = replacer.Replace(name)
	if name == "" {
		name = "file"
	}
	return name
}
