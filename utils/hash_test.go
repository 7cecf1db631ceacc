package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte("content"))
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashBytes([]byte("content")))
	assert.NotEqual(t, h, HashBytes([]byte("other")))
}

func TestChunkIDStable(t *testing.T) {
	a := ChunkID("doc1", 0, "Some chunk text here.")
	b := ChunkID("doc1", 0, "Some chunk text here.")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestChunkIDNormalizesWhitespaceAndCase(t *testing.T) {
	a := ChunkID("doc1", 2, "Hello   World")
	b := ChunkID("doc1", 2, "hello world")
	assert.Equal(t, a, b)
}

func TestChunkIDVariesByPosition(t *testing.T) {
	text := "identical text"
	assert.NotEqual(t, ChunkID("doc1", 0, text), ChunkID("doc1", 1, text))
	assert.NotEqual(t, ChunkID("doc1", 0, text), ChunkID("doc2", 0, text))
}

func TestEmbedCacheKeyPrefixOnly(t *testing.T) {
	base := make([]byte, 600)
	for i := range base {
		base[i] = 'a'
	}
	long1 := string(base) + "tail-one"
	long2 := string(base) + "tail-two"

	// Only the first 500 chars participate, so keys match.
	assert.Equal(t, EmbedCacheKey("doc1", 0, long1), EmbedCacheKey("doc1", 0, long2))

	// Changes within the prefix produce a different key.
	assert.NotEqual(t, EmbedCacheKey("doc1", 0, long1), EmbedCacheKey("doc1", 0, "b"+long1))
}

func TestGenerateSecureRandomString(t *testing.T) {
	s, err := GenerateSecureRandomString(16)
	require.NoError(t, err)
	assert.Len(t, s, 16)

	other, err := GenerateSecureRandomString(16)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestSafeFilename(t *testing.T) {
	out := SafeFilename("../my paper/v2.pdf")
	assert.NotContains(t, out, "/")
	assert.NotContains(t, out, " ")
	assert.NotContains(t, out, "..")

	assert.Equal(t, "file", SafeFilename("   "))
}
