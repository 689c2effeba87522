package queue

import (
	"context"
	"testing"
	"time"
)

func TestLocalBusFansOutToSubscribers(t *testing.T) {
	bus := NewLocalBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := bus.Subscribe(ctx)
	second, _ := bus.Subscribe(ctx)

	if err := bus.Publish(context.Background(), "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan string{first, second} {
		select {
		case jobID := <-ch:
			if jobID != "job-1" {
				t.Fatalf("unexpected job id %q", jobID)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected notification")
		}
	}
}

func TestLocalBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewLocalBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := bus.Subscribe(ctx)
	for _, id := range []string{"a", "b", "c"} {
		if err := bus.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish must not block: %v", err)
		}
	}
	if got := <-ch; got != "a" {
		t.Fatalf("expected first notification to be kept, got %q", got)
	}
}

func TestLocalBusClosesChannelOnCancel(t *testing.T) {
	bus := NewLocalBus(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel was not closed")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}
