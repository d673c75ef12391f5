package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild_AssignsMonotonicIndices(t *testing.T) {
	b := New("req-1", "gpt-3.5-turbo", 0)

	t0 := b.Build("Hel")
	t1 := b.Build("lo")

	assert.Equal(t, 0, t0.TokenIndex)
	assert.Equal(t, 1, t1.TokenIndex)
	assert.Equal(t, "req-1", t0.RequestID)
	assert.Equal(t, "gpt-3.5-turbo", t0.ModelID)
	assert.Equal(t, 0, t0.AttemptSeq)
}

func TestNextIndex_ReflectsPendingAssignment(t *testing.T) {
	b := New("req-1", "gpt-3.5-turbo", 0)
	assert.Equal(t, 0, b.NextIndex())
	b.Build("a")
	assert.Equal(t, 1, b.NextIndex())
}
