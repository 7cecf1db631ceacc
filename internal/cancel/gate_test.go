package cancel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateLifecycle(t *testing.T) {
	g := NewGate()

	assert.False(t, g.Cancelled())
	assert.NoError(t, g.Err())

	g.Set()
	assert.True(t, g.Cancelled())
	assert.ErrorIs(t, g.Err(), ErrCancelled)

	g.Clear()
	assert.False(t, g.Cancelled())
	assert.NoError(t, g.Err())
}

func TestGateSetIsIdempotent(t *testing.T) {
	g := NewGate()
	g.Set()
	g.Set()
	assert.True(t, g.Cancelled())
	g.Clear()
	assert.False(t, g.Cancelled())
}
