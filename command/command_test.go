package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFOOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(MaxPending)
	a := New(Upload, "a.txt", nil)
	b := New(Upload, "b.txt", nil)

	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a.txt", got.FileName)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b.txt", got.FileName)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushReturnsErrQueueFullWithoutWaiting(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Push(New(ShowStatus, "", nil)))
	require.NoError(t, q.Push(New(ShowStatus, "", nil)))

	err := q.Push(New(ShowStatus, "", nil))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestAwaitBlocksUntilComplete(t *testing.T) {
	t.Parallel()

	cmd := New(Download, "f.bin", []byte{1, 2, 3})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cmd.Complete(Result{Code: OK})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := cmd.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, OK, result.Code)
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	cmd := New(Download, "f.bin", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cmd.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainCompletesEveryPendingCommandAsCancelled(t *testing.T) {
	t.Parallel()

	q := NewQueue(MaxPending)
	a := New(Upload, "a.txt", nil)
	b := New(Upload, "b.txt", nil)
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))

	q.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultA, err := a.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, resultA.Code)

	resultB, err := b.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, resultB.Code)

	assert.Equal(t, 0, q.Len())
}
