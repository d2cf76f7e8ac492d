package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptQueue_FIFOOrder(t *testing.T) {
	q := newPromptQueue(3)

	require.NoError(t, q.enqueue("one"))
	require.NoError(t, q.enqueue("two"))
	require.NoError(t, q.enqueue("three"))

	assert.Equal(t, "one", <-q.drain())
	assert.Equal(t, "two", <-q.drain())
	assert.Equal(t, "three", <-q.drain())
}

func TestPromptQueue_Backpressure(t *testing.T) {
	q := newPromptQueue(1)

	require.NoError(t, q.enqueue("one"))
	assert.True(t, q.full())
	assert.ErrorIs(t, q.enqueue("two"), ErrBackpressure)

	// Draining frees capacity again.
	<-q.drain()
	assert.False(t, q.full())
	require.NoError(t, q.enqueue("three"))
}

func TestPromptQueue_Close(t *testing.T) {
	q := newPromptQueue(2)
	require.NoError(t, q.enqueue("pending"))

	q.close()
	q.close() // idempotent

	assert.ErrorIs(t, q.enqueue("late"), ErrQueueClosed)

	// Buffered prompts drain, then the channel reports closed.
	v, ok := <-q.drain()
	assert.True(t, ok)
	assert.Equal(t, "pending", v)
	_, ok = <-q.drain()
	assert.False(t, ok)
}

func TestPromptQueue_MinimumCapacity(t *testing.T) {
	q := newPromptQueue(0)
	require.NoError(t, q.enqueue("one"), "capacity is clamped to at least 1")
}
