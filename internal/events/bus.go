// Package events fans gift lifecycle notifications out to in-process subscribers.
package events

import (
	"context"
	"sync"
	"time"
)

// Type enumerates lifecycle notifications.
type Type string

const (
	TypeGiftCreated         Type = "gift.created"
	TypeGiftUpdated         Type = "gift.updated"
	TypeSetupStarted        Type = "gift.setup_started"
	TypeGiftSealed          Type = "gift.sealed"
	TypeGiftViewed          Type = "gift.viewed"
	TypeContributionAdded   Type = "gift.contribution_added"
	TypeAssetAttached       Type = "gift.asset_attached"
	TypeGiftDeleted         Type = "gift.deleted"
	TypePinAttemptsExceeded Type = "gift.pin_attempts_exceeded"
)

// AllGifts subscribes to events for every gift.
const AllGifts = "*"

const defaultBufferSize = 16

// Event is a single lifecycle notification. It never carries record content.
type Event struct {
	Type      Type      `json:"type"`
	GiftID    string    `json:"gift_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus delivers events to subscribers keyed by gift id.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
	once   sync.Once
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a listener for one gift id, or AllGifts. The returned
// func unsubscribes and closes the stream; it also runs when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, giftID string) (<-chan Event, func()) {
	if giftID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     b.nextSequence(),
		stream: make(chan Event, b.bufferSize),
	}
	b.register(giftID, sub)
	done := make(chan struct{})
	var stop sync.Once
	cleanup := func() {
		stop.Do(func() {
			close(done)
			b.unregister(giftID, sub)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to subscribers of its gift and to AllGifts
// subscribers. Slow subscribers miss events instead of blocking.
func (b *Bus) Publish(event Event) {
	if event.GiftID == "" || event.Type == "" {
		return
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers[event.GiftID])+len(b.subscribers[AllGifts]))
	for _, sub := range b.subscribers[event.GiftID] {
		targets = append(targets, sub)
	}
	for _, sub := range b.subscribers[AllGifts] {
		targets = append(targets, sub)
	}
	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
	b.mu.RUnlock()
}

// SubscriberCount reports active subscriptions for a key.
func (b *Bus) SubscriberCount(giftID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[giftID])
}

func (b *Bus) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Bus) register(giftID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[giftID]; !ok {
		b.subscribers[giftID] = make(map[int64]*subscriber)
	}
	b.subscribers[giftID][sub.id] = sub
}

func (b *Bus) unregister(giftID string, sub *subscriber) {
	b.mu.Lock()
	subs := b.subscribers[giftID]
	if subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscribers, giftID)
		}
	}
	b.mu.Unlock()
	sub.once.Do(func() {
		close(sub.stream)
	})
}
