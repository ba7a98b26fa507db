package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	b := NewMemory(0)
	sub, err := b.Subscribe(context.Background(), "project:1:updates")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if err := b.Publish(context.Background(), "project:1:updates", []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := sub.Receive(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != `{"type":"pong"}` {
		t.Errorf("Receive() = %s, want pong payload", got)
	}
}

func TestReceiveTimesOutWithNoMessage(t *testing.T) {
	b := NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), "project:1:updates")
	defer sub.Close()

	start := time.Now()
	_, err := sub.Receive(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrNoMessage) {
		t.Fatalf("Receive() error = %v, want ErrNoMessage", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Receive() returned before the wait elapsed")
	}
}

func TestReceiveHonorsCancellation(t *testing.T) {
	b := NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), "project:1:updates")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sub.Receive(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Receive() error = %v, want context.Canceled", err)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), "project:1:updates")
	sub.Close()

	b.Publish(context.Background(), "project:1:updates", []byte("x"))

	_, err := sub.Receive(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive() after Close error = %v, want ErrClosed", err)
	}
	if n := b.Subscribers("project:1:updates"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), "project:1:updates")
	if err := sub.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestCrossChannelIsolation(t *testing.T) {
	b := NewMemory(0)
	sub1, _ := b.Subscribe(context.Background(), "project:1:updates")
	sub2, _ := b.Subscribe(context.Background(), "project:2:updates")
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(context.Background(), "project:1:updates", []byte("one"))

	if _, err := sub1.Receive(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("project 1 subscriber should have received payload: %v", err)
	}
	if _, err := sub2.Receive(context.Background(), 50*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("project 2 subscriber error = %v, want ErrNoMessage", err)
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), "c")
	defer sub.Close()

	for _, p := range []string{"a", "b", "c"} {
		b.Publish(context.Background(), "c", []byte(p))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := sub.Receive(context.Background(), 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Receive() = %s, want %s", got, want)
		}
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := NewMemory(1)
	sub, _ := b.Subscribe(context.Background(), "c")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), "c", []byte("x"))
	}

	if _, err := sub.Receive(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("expected the first payload: %v", err)
	}
	if _, err := sub.Receive(context.Background(), 30*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected queue to be drained, got %v", err)
	}
}

func TestPublishToChannelWithoutSubscribers(t *testing.T) {
	b := NewMemory(0)
	if err := b.Publish(context.Background(), "nobody", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestClosedBrokerRejectsOperations(t *testing.T) {
	b := NewMemory(0)
	b.Close()

	if _, err := b.Subscribe(context.Background(), "c"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() error = %v, want ErrClosed", err)
	}
	if err := b.Publish(context.Background(), "c", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() error = %v, want ErrClosed", err)
	}
	if err := b.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() error = %v, want ErrClosed", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := NewMemory(0)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe(context.Background(), "c")
			if err != nil {
				t.Error(err)
				return
			}
			b.Publish(context.Background(), "c", []byte("x"))
			sub.Receive(context.Background(), 100*time.Millisecond)
			sub.Close()
		}()
	}

	wg.Wait()
	if n := b.Subscribers("c"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}
