// Package bus provides the two message paths of the front end: the single
// unbounded queue feeding the backend link and the bounded per-session
// queues feeding each client writer.
package bus

import (
	"context"
	"sync"

	"github.com/eapache/queue/v2"

	"github.com/mudforge/gate/internal/message"
)

// Upstream is the multi-producer single-consumer queue carrying envelopes
// to the backend link writer. It is unbounded: producers never block, a
// stalled backend is handled by closing the link rather than by
// backpressuring players.
type Upstream struct {
	mu   sync.Mutex
	q    *queue.Queue[message.Envelope]
	wake chan struct{}
}

func NewUpstream() *Upstream {
	return &Upstream{
		q:    queue.New[message.Envelope](),
		wake: make(chan struct{}, 1),
	}
}

// Put enqueues an envelope. Never blocks.
func (u *Upstream) Put(env message.Envelope) {
	u.mu.Lock()
	u.q.Add(env)
	u.mu.Unlock()

	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Get removes the oldest envelope, blocking until one is available or the
// context is cancelled.
func (u *Upstream) Get(ctx context.Context) (message.Envelope, error) {
	for {
		u.mu.Lock()
		if u.q.Length() > 0 {
			env := u.q.Remove()
			u.mu.Unlock()
			return env, nil
		}
		u.mu.Unlock()

		select {
		case <-ctx.Done():
			return message.Envelope{}, ctx.Err()
		case <-u.wake:
		}
	}
}

// Len reports the number of queued envelopes.
func (u *Upstream) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.q.Length()
}
