// Package mailbox implements the message bus agents use to exchange
// action.AgentMessage values: one bounded FIFO per recipient, delivered
// without blocking the sender beyond a configurable timeout.
package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/action"
)

// DefaultCapacity is the per-agent inbox size used when a Bus is built with
// capacity <= 0.
const DefaultCapacity = 64

// DefaultDeliverTimeout bounds how long Deliver waits for room in a full
// inbox before giving up.
const DefaultDeliverTimeout = 5 * time.Second

// Bus routes AgentMessage values between agents. Ordering is only
// guaranteed within one (From, To) pair — messages from different senders
// to the same recipient may interleave in delivery order.
type Bus struct {
	mu       sync.RWMutex
	inboxes  map[string]chan action.AgentMessage
	capacity int
	timeout  time.Duration
}

// NewBus builds a Bus whose inboxes hold up to capacity messages each
// (DefaultCapacity if capacity <= 0) and whose Deliver calls give up after
// timeout waiting for room (DefaultDeliverTimeout if timeout <= 0).
func NewBus(capacity int, timeout time.Duration) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = DefaultDeliverTimeout
	}
	return &Bus{
		inboxes:  make(map[string]chan action.AgentMessage),
		capacity: capacity,
		timeout:  timeout,
	}
}

func (b *Bus) inboxFor(agentID string) chan action.AgentMessage {
	b.mu.RLock()
	ch, ok := b.inboxes[agentID]
	b.mu.RUnlock()
	if ok {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inboxes[agentID]; ok {
		return ch
	}
	ch = make(chan action.AgentMessage, b.capacity)
	b.inboxes[agentID] = ch
	return ch
}

// Deliver enqueues msg into msg.To's inbox. It blocks only long enough for
// room to free up in a full inbox, bounded by ctx and the Bus's configured
// timeout, then reports backpressure as an error instead of blocking the
// sender indefinitely.
func (b *Bus) Deliver(ctx context.Context, msg action.AgentMessage) error {
	ch := b.inboxFor(msg.To)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mailbox: timed out delivering to %s after %s (inbox full)", msg.To, b.timeout)
	}
}

// Drain returns every message currently queued for agentID, in FIFO order,
// without blocking. It is the loop's way of picking up everything that
// arrived while it was running, before starting the next model turn.
func (b *Bus) Drain(agentID string) []action.AgentMessage {
	ch := b.inboxFor(agentID)

	var out []action.AgentMessage
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// WaitForAny blocks until at least one message is queued for agentID, ctx
// is cancelled, or the Bus's timeout elapses. On success it returns that
// message plus any others that had also queued up by the time it woke, in
// FIFO order (the loop treats these the same as a Drain after the wake).
func (b *Bus) WaitForAny(ctx context.Context, agentID string) ([]action.AgentMessage, error) {
	ch := b.inboxFor(agentID)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		out := []action.AgentMessage{msg}
		out = append(out, b.Drain(agentID)...)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("mailbox: timed out waiting for a message to %s after %s", agentID, b.timeout)
	}
}

// Close removes agentID's inbox. Any messages still queued in it are
// discarded. It is used once an agent has reached a terminal state and
// will never be drained again, so the Bus does not keep accumulating
// inboxes for agents that have long since finished. A subsequent Deliver
// to the same ID opens a fresh, empty inbox rather than reuse anything
// from before the close.
func (b *Bus) Close(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, agentID)
}

// Pending reports how many messages are currently queued for agentID,
// without consuming them. Dispatch logic does not use it.
func (b *Bus) Pending(agentID string) int {
	ch := b.inboxFor(agentID)
	return len(ch)
}
