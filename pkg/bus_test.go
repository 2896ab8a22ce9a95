package pkg

import (
	"context"
	"errors"
	"testing"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	var got [][]byte
	err := bus.Subscribe(ctx, "topic.a", func(ctx context.Context, msg []byte) error {
		got = append(got, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Publish(ctx, "topic.a", []byte("one")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Publish(ctx, "topic.b", []byte("other")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("handler received %d messages, want 1", len(got))
	}
	if string(got[0]) != "one" {
		t.Errorf("handler received %q, want %q", got[0], "one")
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	count := 0
	for i := 0; i < 3; i++ {
		bus.Subscribe(ctx, "topic", func(ctx context.Context, msg []byte) error {
			count++
			return nil
		})
	}

	if err := bus.Publish(ctx, "topic", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if count != 3 {
		t.Errorf("fan-out reached %d handlers, want 3", count)
	}
}

func TestBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	delivered := false
	bus.Subscribe(ctx, "topic", func(ctx context.Context, msg []byte) error {
		return errors.New("boom")
	})
	bus.Subscribe(ctx, "topic", func(ctx context.Context, msg []byte) error {
		delivered = true
		return nil
	})

	if err := bus.Publish(ctx, "topic", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !delivered {
		t.Error("second handler should still receive the message after first failed")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	called := false
	bus.Subscribe(ctx, "topic", func(ctx context.Context, msg []byte) error {
		called = true
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	bus.Publish(ctx, "topic", []byte("x"))

	if called {
		t.Error("handler should not run after Close()")
	}
}
