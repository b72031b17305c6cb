package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"satya.ledger/sl/internal/types"
)

const subscriberBuffer = 32

// Broker fans events out to in-process subscribers such as websocket
// clients. A subscriber that falls behind loses events rather than blocking
// delivery to the others.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]chan types.Event
	dropped int
}

func NewBroker() *Broker {
	return &Broker{
		clients: make(map[string]chan types.Event),
	}
}

// Name implements Sink.
func (b *Broker) Name() string { return "broker" }

// Deliver implements Sink. It never fails.
func (b *Broker) Deliver(_ context.Context, ev types.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called once the subscriber is done; it closes the channel.
func (b *Broker) Subscribe() (<-chan types.Event, func()) {
	id := uuid.New().String()
	ch := make(chan types.Event, subscriberBuffer)

	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
