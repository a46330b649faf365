package stream

import (
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity. Non-terminal frames
// beyond a slow subscriber's buffer are dropped; terminal frames displace the
// oldest buffered frame instead.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan Event
	closed bool
}

// Broker routes generation events to at most one live subscriber per stream id.
type Broker struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	waiters map[string][]chan struct{}
	logger  *zap.Logger
}

// NewBroker creates an event broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:    make(map[string]*subscriber),
		waiters: make(map[string][]chan struct{}),
		logger:  logger.With(zap.String("component", "stream_broker")),
	}
}

// Attach registers the caller as the stream's live subscriber, replacing and
// closing any previous one. The returned detach func is idempotent and only
// removes the subscription if it is still the current one.
func (b *Broker) Attach(streamID string) (<-chan Event, func()) {
	b.mu.Lock()
	if prev, ok := b.subs[streamID]; ok {
		b.closeLocked(prev)
	}
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[streamID] = sub

	// Wake anything waiting for a subscriber to show up.
	for _, w := range b.waiters[streamID] {
		close(w)
	}
	delete(b.waiters, streamID)
	b.mu.Unlock()

	b.logger.Debug("subscriber attached", zap.String("stream_id", streamID))

	detach := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[streamID]; ok && cur == sub {
			b.closeLocked(cur)
			delete(b.subs, streamID)
		}
	}
	return sub.ch, detach
}

// HasSubscriber reports whether a live subscriber is attached to the stream.
func (b *Broker) HasSubscriber(streamID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[streamID]
	return ok
}

// SubscriberAttached returns a channel that is closed once a subscriber is
// attached to the stream, plus a cancel func that removes the waiter entry.
// Callers select between the channel and a grace timer and must invoke cancel
// when the wait ends, or the waiter outlives the run. If a subscriber is
// already attached the channel is closed on return.
func (b *Broker) SubscriberAttached(streamID string) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	if _, ok := b.subs[streamID]; ok {
		close(ch)
		return ch, func() {}
	}
	b.waiters[streamID] = append(b.waiters[streamID], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ws := b.waiters[streamID]
		for i, w := range ws {
			if w == ch {
				b.waiters[streamID] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(b.waiters[streamID]) == 0 {
			delete(b.waiters, streamID)
		}
	}
	return ch, cancel
}

// Emit delivers the event to the stream's subscriber, if any. Events for
// unattached streams are dropped. A final emission closes and removes the
// subscription. Returns whether the event was delivered.
func (b *Broker) Emit(streamID string, ev Event, final bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[streamID]
	if !ok {
		return false
	}

	delivered := false
	select {
	case sub.ch <- ev:
		delivered = true
	default:
		if final {
			// The terminal frame carries the snapshot the client rehydrates
			// from; evict the oldest buffered chunk to make room for it.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
				delivered = true
			default:
			}
		}
		if !delivered {
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.String("stream_id", streamID),
				zap.String("event_type", string(ev.Type())),
			)
		}
	}

	if final {
		b.closeLocked(sub)
		delete(b.subs, streamID)
	}
	return delivered
}

// CloseStream force-detaches the stream's subscriber without a terminal event.
func (b *Broker) CloseStream(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[streamID]; ok {
		b.closeLocked(sub)
		delete(b.subs, streamID)
	}
}

// Close detaches every subscriber and drops all waiters.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		b.closeLocked(sub)
		delete(b.subs, id)
	}
	for id, ws := range b.waiters {
		for _, w := range ws {
			close(w)
		}
		delete(b.waiters, id)
	}
}

func (b *Broker) closeLocked(sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
