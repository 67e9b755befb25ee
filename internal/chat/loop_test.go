package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopDrainRunsInPostOrder(t *testing.T) {
	loop := NewLoop()
	var got []int

	loop.Post(func() { got = append(got, 1) })
	loop.Post(func() {
		got = append(got, 2)
		loop.Post(func() { got = append(got, 4) })
	})
	loop.Post(func() { got = append(got, 3) })

	assert.Equal(t, 3, loop.Pending())
	assert.Equal(t, 4, loop.Drain())
	assert.Equal(t, []int{1, 2, 3, 4}, got)
	assert.Zero(t, loop.Pending())
}

func TestLoopRunDeliversUntilCancelled(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	go func() {
		loop.Run(ctx, nil)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		loop.Post(func() {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
