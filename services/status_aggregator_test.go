package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusChannelNaming(t *testing.T) {
	assert.Equal(t, "status:doc123", StatusChannel("doc123"))
	assert.Equal(t, "status:*", StatusChannel("*"))
}
