package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
)

const defaultSubscriptionBuffer = 64

// Subscription is one observer channel, typically one live connection.
type Subscription struct {
	id          uint64
	requesterID string
	events      chan domain.Event
}

func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

func (s *Subscription) RequesterID() string {
	return s.requesterID
}

// Broadcaster is the registry of connected observers. Order outcomes go to the
// requester's own subscriptions; inventory changes go to everyone.
type Broadcaster struct {
	mu          sync.RWMutex
	nextID      uint64
	all         map[uint64]*Subscription
	byRequester map[string]map[uint64]*Subscription
	buffer      int
	log         zerolog.Logger
}

func NewBroadcaster(buffer int, log zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Broadcaster{
		all:         make(map[uint64]*Subscription),
		byRequester: make(map[string]map[uint64]*Subscription),
		buffer:      buffer,
		log:         log.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a connection. An empty requesterID is an anonymous
// observer that only receives inventory changes.
func (b *Broadcaster) Subscribe(requesterID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:          b.nextID,
		requesterID: requesterID,
		events:      make(chan domain.Event, b.buffer),
	}

	b.all[sub.id] = sub
	if requesterID != "" {
		subs, ok := b.byRequester[requesterID]
		if !ok {
			subs = make(map[uint64]*Subscription)
			b.byRequester[requesterID] = subs
		}
		subs[sub.id] = sub
	}

	b.log.Debug().Str("requester_id", requesterID).Uint64("subscription", sub.id).Msg("observer connected")
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.all[sub.id]; !ok {
		return
	}
	delete(b.all, sub.id)

	if subs, ok := b.byRequester[sub.requesterID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.byRequester, sub.requesterID)
		}
	}

	close(sub.events)
	b.log.Debug().Str("requester_id", sub.requesterID).Uint64("subscription", sub.id).Msg("observer disconnected")
}

func (b *Broadcaster) SubscriberCount(requesterID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byRequester[requesterID])
}

func (b *Broadcaster) NotifyOrder(requesterID string, event domain.OrderOutcomeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.byRequester[requesterID]
	if len(subs) == 0 {
		b.log.Debug().Str("requester_id", requesterID).Str("order_id", event.OrderID).Msg("no observers for requester")
		return
	}

	for _, sub := range subs {
		b.deliver(sub, domain.Event{Name: domain.EventOrderUpdate, Order: &event})
	}
}

func (b *Broadcaster) NotifyInventory(event domain.InventoryChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.all {
		b.deliver(sub, domain.Event{Name: domain.EventTicketUpdate, Inventory: &event})
	}
}

// deliver never blocks; a slow observer loses events rather than stalling workers.
func (b *Broadcaster) deliver(sub *Subscription, event domain.Event) {
	select {
	case sub.events <- event:
	default:
		b.log.Warn().Str("requester_id", sub.requesterID).Str("event", event.Name).Msg("observer buffer full, event dropped")
	}
}
