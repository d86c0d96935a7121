package overlord

import (
	"sync"

	"github.com/gossipcore/relay/internal/job"
)

// inbox is a multi-producer, single-consumer, unbounded queue of
// commands, exposed as a channel so the Overlord's main loop can select
// on it alongside Minion-exit notifications. Go's channels are a
// natural fit for most of this codebase, but an unbounded channel isn't
// a stdlib primitive: this pairs a mutex-guarded growable slice with a
// forwarding goroutine that drains it into a bounded handoff channel,
// so producers (Enqueue) never block regardless of consumer pace.
type inbox struct {
	mu     sync.Mutex
	queue  []job.Command
	wake   chan struct{}
	out    chan job.Command
	closed bool
}

func newInbox() *inbox {
	b := &inbox{
		wake: make(chan struct{}, 1),
		out:  make(chan job.Command),
	}
	go b.run()
	return b
}

// Enqueue appends cmd to the queue. Producers never block.
func (b *inbox) Enqueue(cmd job.Command) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, cmd)
	b.mu.Unlock()
	b.nudge()
}

// Close marks the inbox closed; the forwarding goroutine closes C()
// once the queue has fully drained.
func (b *inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.nudge()
}

// C returns the channel commands are delivered on, for use in a select
// alongside other event sources. It closes once Close has been called
// and every queued command delivered.
func (b *inbox) C() <-chan job.Command { return b.out }

func (b *inbox) nudge() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) run() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				close(b.out)
				return
			}
			<-b.wake
			continue
		}
		cmd := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.out <- cmd
	}
}
