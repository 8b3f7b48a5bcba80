// Package broadcast fans player-snapshot batches out to every connected
// transport subscriber without letting a slow consumer apply
// back-pressure to the poller. Each subscriber has its own buffered
// channel; a full buffer drops the batch for that subscriber rather
// than blocking the publisher.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ashgrove/cs2obs/internal/gameobserver"
)

// Capacity is the per-subscriber channel buffer depth. A slow consumer
// can fall behind by this many published batches before further
// publishes start dropping for it.
const Capacity = 16

// Hub fans out player batches to any number of concurrent subscribers.
// It is safe for concurrent use: Subscribe/Unsubscribe/Publish may all
// be called from different goroutines.
type Hub struct {
	subs   sync.Map // map[<-chan []gameobserver.Player]chan []gameobserver.Player
	count  atomic.Int64
	closed atomic.Bool
	once   sync.Once
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{}
}

// Subscribe registers a new subscriber and returns a receive-only
// channel of published batches. The channel is closed when ctx is
// cancelled, when Unsubscribe is called with it, or when the hub is
// closed.
func (h *Hub) Subscribe(ctx context.Context) <-chan []gameobserver.Player {
	ch := make(chan []gameobserver.Player, Capacity)
	if h.closed.Load() {
		close(ch)
		return ch
	}

	// Key by the receive-only view so Unsubscribe, which only ever sees
	// that view, finds the entry.
	h.subs.Store((<-chan []gameobserver.Player)(ch), ch)
	h.count.Add(1)

	if ctx != nil {
		go func() {
			<-ctx.Done()
			h.Unsubscribe(ch)
		}()
	}

	return ch
}

// Unsubscribe removes ch from the hub and closes it. Calling
// Unsubscribe with an unknown or already-removed channel is a no-op.
func (h *Hub) Unsubscribe(ch <-chan []gameobserver.Player) {
	if actual, loaded := h.subs.LoadAndDelete(ch); loaded {
		close(actual.(chan []gameobserver.Player))
		h.count.Add(-1)
	}
}

// SubscriberCount reports how many subscribers are currently
// registered. The poller uses this to skip ticks entirely when no one
// is listening.
func (h *Hub) SubscriberCount() int {
	return int(h.count.Load())
}

// Publish delivers batch to every current subscriber via a
// non-blocking send. A subscriber whose buffer is full does not
// receive this batch — there is no retry and no error reported to the
// publisher.
func (h *Hub) Publish(batch []gameobserver.Player) {
	if h.closed.Load() {
		return
	}

	h.subs.Range(func(_, v any) bool {
		ch := v.(chan []gameobserver.Player)
		select {
		case ch <- batch:
		default:
			// slowest-consumer-drop: the subscriber falls behind silently.
		}
		return true
	})
}

// Close unsubscribes and closes every registered subscriber channel.
// After Close returns, Publish is a no-op and Subscribe returns an
// already-closed channel.
func (h *Hub) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		h.subs.Range(func(key, value any) bool {
			h.subs.Delete(key)
			close(value.(chan []gameobserver.Player))
			h.count.Add(-1)
			return true
		})
	})
}
