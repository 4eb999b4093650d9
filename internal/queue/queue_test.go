package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5000; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5000, q.Len())

	for i := 0; i < 5000; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push("hello"))
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_CloseDrainsThenErrors(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.Push(3), ErrClosed)
	assert.True(t, q.Closed())

	ctx := context.Background()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := New[int]()
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop stayed blocked after Close")
	}
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := New[[2]int]()
	const producers, each = 4, 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = q.Push([2]int{p, i})
			}
		}(p)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	next := make([]int, producers)
	count := 0
	for {
		v, err := q.Pop(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
			break
		}
		require.Equal(t, next[v[0]], v[1], "producer %d out of order", v[0])
		next[v[0]]++
		count++
	}
	assert.Equal(t, producers*each, count)
}
