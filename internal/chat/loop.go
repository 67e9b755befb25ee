package chat

import (
	"context"
	"sync"
)

// Loop serializes all session work onto one goroutine. Post never blocks,
// so network and timer goroutines can hand work over without waiting.
type Loop struct {
	queue []func()
	wake  chan struct{}

	mu sync.Mutex
}

// NewLoop creates an empty loop
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run after everything posted before it
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued functions
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run hands queued functions to deliver, in order, until ctx is done.
// deliver decides where they execute; a nil deliver runs them in place.
func (l *Loop) Run(ctx context.Context, deliver func(func())) {
	if deliver == nil {
		deliver = func(fn func()) { fn() }
	}

	for {
		for _, fn := range l.take() {
			deliver(fn)
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Drain runs queued functions on the calling goroutine until the queue is
// empty, including functions posted while draining.
func (l *Loop) Drain() int {
	ran := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}
