package events

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestBusPublishesToGiftSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := bus.Subscribe(ctx, "gift-1")
	defer cleanup()

	bus.Publish(Event{Type: TypeGiftSealed, GiftID: "gift-1", Timestamp: time.Now().UTC()})

	select {
	case received := <-stream:
		if received.Type != TypeGiftSealed {
			t.Fatalf("expected event type %s, got %s", TypeGiftSealed, received.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestBusIsolatesGiftsAndFansOutToWildcard(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	giftStream, giftCleanup := bus.Subscribe(ctx, "gift-2")
	defer giftCleanup()
	allStream, allCleanup := bus.Subscribe(ctx, AllGifts)
	defer allCleanup()

	bus.Publish(Event{Type: TypeGiftViewed, GiftID: "gift-3", Timestamp: time.Now().UTC()})

	select {
	case <-giftStream:
		t.Fatal("did not expect event for unrelated gift")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case received := <-allStream:
		if received.GiftID != "gift-3" {
			t.Fatalf("expected gift-3, received %s", received.GiftID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected wildcard subscriber to receive event")
	}
}

func TestBusUnsubscribeClosesStream(t *testing.T) {
	bus := NewBus()
	stream, cleanup := bus.Subscribe(context.Background(), "gift-4")
	if bus.SubscriberCount("gift-4") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cleanup()
	cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected stream to be closed after unsubscribe")
	}
	if bus.SubscriberCount("gift-4") != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
	bus.Publish(Event{Type: TypeGiftViewed, GiftID: "gift-4"})
}

func TestBusContextCancellationUnsubscribes(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := bus.Subscribe(ctx, "gift-5")
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after cancellation")
	}
}

func TestBusIgnoresIncompleteEvents(t *testing.T) {
	bus := NewBus()
	stream, cleanup := bus.Subscribe(context.Background(), AllGifts)
	defer cleanup()

	bus.Publish(Event{Type: TypeGiftCreated})
	bus.Publish(Event{GiftID: "gift-6"})

	select {
	case event := <-stream:
		t.Fatalf("unexpected event %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusUnsubscribeReleasesWatcherWithoutCancellation(t *testing.T) {
	bus := NewBus()
	baseline := runtime.NumGoroutine()

	for index := 0; index < 50; index++ {
		_, cleanup := bus.Subscribe(context.Background(), AllGifts)
		cleanup()
		cleanup()
	}
	if count := bus.SubscriberCount(AllGifts); count != 0 {
		t.Fatalf("expected no subscribers, got %d", count)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("expected watcher goroutines to exit, have %d over a baseline of %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
