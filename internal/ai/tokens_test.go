package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))

	n := CountTokens("hello world")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)

	long := strings.Repeat("research paper ingestion ", 100)
	assert.Greater(t, CountTokens(long), CountTokens("short"))
}

func TestFitsBudget(t *testing.T) {
	assert.True(t, FitsBudget(0, strings.Repeat("x", 10000)))
	assert.True(t, FitsBudget(1000, "small piece", "another piece"))
	assert.False(t, FitsBudget(5, strings.Repeat("many different words here ", 50)))
}
