package bus

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds each queue's buffer.
const DefaultCapacity = 64

// Bus routes messages through named FIFO queues. Queues are created on first
// reference from either the send or receive side.
type Bus struct {
	mu       sync.Mutex
	queues   map[string]chan interface{}
	capacity int
}

// New creates a bus with the default per-queue capacity.
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a bus whose queues buffer up to capacity messages.
func NewWithCapacity(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		queues:   make(map[string]chan interface{}),
		capacity: capacity,
	}
}

func (b *Bus) queue(name string) chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan interface{}, b.capacity)
		b.queues[name] = q
	}
	return q
}

// Send enqueues a message, blocking while the queue is full. The context
// bounds the wait.
func (b *Bus) Send(ctx context.Context, name string, msg interface{}) error {
	select {
	case b.queue(name) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues without blocking and reports whether the message was taken.
func (b *Bus) TrySend(name string, msg interface{}) bool {
	select {
	case b.queue(name) <- msg:
		return true
	default:
		return false
	}
}

// Recv blocks until a message arrives. The context bounds the wait.
func (b *Bus) Recv(ctx context.Context, name string) (interface{}, error) {
	select {
	case msg := <-b.queue(name):
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecvTimeout waits up to timeout for a message. A zero or negative timeout
// polls without waiting. The second return is false when no message arrived.
func (b *Bus) RecvTimeout(name string, timeout time.Duration) (interface{}, bool) {
	if timeout <= 0 {
		select {
		case msg := <-b.queue(name):
			return msg, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-b.queue(name):
		return msg, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of buffered messages in a queue.
func (b *Bus) Len(name string) int {
	return len(b.queue(name))
}
