package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const defaultSubscriberBuffer = 32

// Broadcaster fans events out to per-conversation subscribers over bounded
// channels. When a subscriber's buffer is full the oldest pending event is
// dropped (newest wins) and a counter is incremented; Publish never blocks.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	buffer  int
	dropped atomic.Uint64
	onDrop  func(conversationID string)
	logger  *logging.Logger
}

// Subscription is one consumer's bounded event stream.
type Subscription struct {
	C              <-chan Event
	ch             chan Event
	conversationID string
}

type BroadcasterOption func(*Broadcaster)

// WithSubscriberBuffer overrides the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook installs a callback invoked on every shed event (metrics).
func WithDropHook(hook func(conversationID string)) BroadcasterOption {
	return func(b *Broadcaster) { b.onDrop = hook }
}

func NewBroadcaster(logger *logging.Logger, opts ...BroadcasterOption) *Broadcaster {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Broadcaster{
		subs:   make(map[string][]*Subscription),
		buffer: defaultSubscriberBuffer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer for one conversation's events.
func (b *Broadcaster) Subscribe(conversationID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, conversationID: conversationID}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[conversationID] = append(b.subs[conversationID], sub)
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.conversationID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.conversationID] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	if len(b.subs[sub.conversationID]) == 0 {
		delete(b.subs, sub.conversationID)
	}
}

// Publish delivers the event to every subscriber of the conversation,
// shedding the oldest pending event per full subscriber.
func (b *Broadcaster) Publish(conversationID string, event Event) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	b.mu.RLock()
	subs := b.subs[conversationID]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Full: shed the oldest and retry once. A concurrent reader may have
		// drained the channel between the two selects, in which case the
		// send just succeeds.
		select {
		case <-sub.ch:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(conversationID)
			}
			b.logger.Debug("event subscriber full, dropped oldest event",
				"conversation_id", conversationID, "event_type", event.Type)
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// DroppedTotal reports how many events were shed since construction.
func (b *Broadcaster) DroppedTotal() uint64 {
	return b.dropped.Load()
}
