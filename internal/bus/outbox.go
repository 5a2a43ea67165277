package bus

import (
	"sync"

	"github.com/mudforge/gate/internal/message"
)

// DefaultOutboxSize bounds a session's outbound queue. A client that stops
// reading loses its oldest pending items rather than stalling the
// dispatcher.
const DefaultOutboxSize = 64

// Outbox is the single-producer single-consumer queue feeding one session
// writer.
type Outbox struct {
	ch        chan message.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		ch:   make(chan message.Outbound, size),
		done: make(chan struct{}),
	}
}

// Push enqueues an item, dropping the oldest queued item on overflow. It
// never blocks. Returns false if the outbox is already closed.
func (o *Outbox) Push(item message.Outbound) bool {
	for {
		select {
		case <-o.done:
			return false
		default:
		}

		select {
		case o.ch <- item:
			return true
		default:
		}

		// Full: evict the oldest and retry.
		select {
		case <-o.ch:
		default:
		}
	}
}

// Items is the consumer side. Receivers must also select on Done so a
// close wakes them.
func (o *Outbox) Items() <-chan message.Outbound {
	return o.ch
}

// Done is closed when the outbox is dropped; pending items are discarded.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close is idempotent.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Len reports the number of queued items.
func (o *Outbox) Len() int {
	return len(o.ch)
}
