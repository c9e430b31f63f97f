package ubibdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeTableLifecycle(t *testing.T) {
	tbl := NewStripeTable(4)
	require.Equal(t, 4, tbl.Len())
	assert.Equal(t, StripeNotFetched, tbl.Status(0))

	require.True(t, tbl.TryBeginFetch(0))
	assert.Equal(t, StripeInFlight, tbl.Status(0))

	// A second caller may not also win the transition (P2: exactly one
	// fetch in flight per stripe at a time).
	assert.False(t, tbl.TryBeginFetch(0))

	tbl.CompleteFetch(0)
	assert.Equal(t, StripeFetched, tbl.Status(0))
	assert.EqualValues(t, 1, tbl.StripesFetched())
}

func TestStripeTableFailFetch(t *testing.T) {
	tbl := NewStripeTable(2)
	require.True(t, tbl.TryBeginFetch(1))
	tbl.FailFetch(1)
	assert.Equal(t, StripeFailed, tbl.Status(1))
	assert.EqualValues(t, 0, tbl.StripesFetched())
}

func TestStripeTableMarkFetchedFromDisk(t *testing.T) {
	tbl := NewStripeTable(2)
	tbl.markFetchedFromDisk(0)
	assert.Equal(t, StripeFetched, tbl.Status(0))
	assert.EqualValues(t, 1, tbl.StripesFetched())
	assert.EqualValues(t, 1, tbl.StripesFlushed())
}

func TestStripeTableRaiseFlushedMonotone(t *testing.T) {
	tbl := NewStripeTable(1)
	tbl.RaiseFlushed(5)
	assert.EqualValues(t, 5, tbl.StripesFlushed())

	// Invariant 3: stripes_flushed never regresses.
	tbl.RaiseFlushed(2)
	assert.EqualValues(t, 5, tbl.StripesFlushed())

	tbl.RaiseFlushed(9)
	assert.EqualValues(t, 9, tbl.StripesFlushed())
}

func TestFetchQueueFIFO(t *testing.T) {
	q := &FetchQueue{}
	require.True(t, q.Enqueue(3))
	require.True(t, q.Enqueue(7))
	assert.Equal(t, 2, q.Len())

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestFetchQueueFull(t *testing.T) {
	q := &FetchQueue{}
	for i := 0; i < fetchQueueCapacity; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(999))
}
