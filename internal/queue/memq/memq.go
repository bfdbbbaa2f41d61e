// Package memq is an in-process queue with the same FIFO and blocking-pop
// semantics as the Redis queue. It backs QUEUE_BACKEND=memory for local
// development and the end-to-end tests; messages do not survive a restart.
package memq

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/snippet-manager/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

type Queue struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	notify chan struct{} // closed and replaced on every push
}

func New() *Queue {
	return &Queue{
		lists:  make(map[string][][]byte),
		notify: make(chan struct{}),
	}
}

func (q *Queue) Push(_ context.Context, name string, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	q.mu.Lock()
	q.lists[name] = append(q.lists[name], msg)
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
	return nil
}

func (q *Queue) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if list := q.lists[name]; len(list) > 0 {
			msg := list[0]
			q.lists[name] = list[1:]
			q.mu.Unlock()
			return msg, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, queue.ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the number of messages waiting in the named list.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[name])
}

// Drain removes and returns every message waiting in the named list.
func (q *Queue) Drain(name string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.lists[name]
	delete(q.lists, name)
	return out
}

func (q *Queue) Ping(context.Context) error { return nil }

func (q *Queue) Close() error { return nil }
