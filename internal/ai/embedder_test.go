package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchTimeoutClamped(t *testing.T) {
	e := &Embedder{}

	// Base 60s + 5s per item, floor 120s.
	assert.Equal(t, 120*time.Second, e.batchTimeout(1))
	assert.Equal(t, 120*time.Second, e.batchTimeout(8))
	assert.Equal(t, 160*time.Second, e.batchTimeout(20))

	// Ceiling 600s.
	assert.Equal(t, 600*time.Second, e.batchTimeout(500))
}

func TestFuseVectors(t *testing.T) {
	assert.Nil(t, fuseVectors(nil))

	single := [][]float32{{1, 2, 3}}
	assert.Equal(t, []float32{1, 2, 3}, fuseVectors(single))

	fused := fuseVectors([][]float32{{1, 3}, {3, 5}})
	assert.Equal(t, []float32{2, 4}, fused)

	// Mismatched dimensions fall back to the first vector.
	assert.Equal(t, []float32{1, 2}, fuseVectors([][]float32{{1, 2}, {1, 2, 3}}))
}
