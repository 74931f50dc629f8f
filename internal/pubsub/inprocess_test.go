package pubsub

import (
	"context"
	"testing"
	"time"
)

func TestInProcessBusDeliversToSubscriber(t *testing.T) {
	bus := NewInProcessBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicBlockIndexed)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, TopicBlockIndexed, []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("unexpected payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInProcessBusIgnoresOtherTopics(t *testing.T) {
	bus := NewInProcessBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicWalletIndexed)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, TopicBlockIndexed, []byte("irrelevant")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on unrelated topic: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInProcessBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewInProcessBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, TopicWalletConnected)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
