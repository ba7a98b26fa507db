package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zyro/backend/internal/broker"
)

func receive(t *testing.T, sub broker.Subscription) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		payload, err := sub.Receive(context.Background(), 50*time.Millisecond)
		if errors.Is(err, broker.ErrNoMessage) {
			continue
		}
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		return string(payload)
	}
	t.Fatal("timed out waiting for published event")
	return ""
}

func TestPublisherWritesEnvelopesToProjectChannel(t *testing.T) {
	b := broker.NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), ChannelName(42))
	defer sub.Close()

	p := NewPublisher(b, PublisherOptions{})
	defer p.Close()

	ctx := context.Background()
	p.PublishCreated(ctx, 42, map[string]any{"id": 7, "name": "Fix bug"})
	p.PublishUpdated(ctx, 42, map[string]any{"id": 7, "status": "qa"})
	p.PublishDeleted(ctx, 42, 7)

	want := []string{
		`{"type":"issue_created","data":{"id":7,"name":"Fix bug"}}`,
		`{"type":"issue_updated","data":{"id":7,"status":"qa"}}`,
		`{"type":"issue_deleted","data":{"issue_id":7}}`,
	}
	for _, w := range want {
		if got := receive(t, sub); got != w {
			t.Errorf("got %s, want %s", got, w)
		}
	}
}

type issueSnapshot struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func TestPublisherSnapshotsPayloadAtCallTime(t *testing.T) {
	b := broker.NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), ChannelName(1))
	defer sub.Close()

	p := NewPublisher(b, PublisherOptions{})
	defer p.Close()

	issue := &issueSnapshot{ID: 1, Status: "todo"}
	p.PublishUpdated(context.Background(), 1, issue)
	issue.Status = "completed"

	if got := receive(t, sub); got != `{"type":"issue_updated","data":{"id":1,"status":"todo"}}` {
		t.Errorf("got %s", got)
	}
}

func TestPublishWithoutMembersStartsNothing(t *testing.T) {
	m, b := newTestManager(t)
	p := NewPublisher(b, PublisherOptions{})

	p.PublishCreated(context.Background(), 77, map[string]any{"id": 1})
	p.Close()

	if m.Active(77) || m.MemberCount(77) != 0 {
		t.Fatal("publishing must not create a room")
	}
}

func TestPublisherSwallowsBrokerFailures(t *testing.T) {
	b := &flakyBroker{Memory: broker.NewMemory(0)}
	b.down.Store(true)
	p := NewPublisher(b, PublisherOptions{Timeout: 50 * time.Millisecond})

	p.PublishUpdated(context.Background(), 99, map[string]any{"id": 1})
	p.PublishDeleted(context.Background(), 99, 1)
	p.Close()
}

func TestPublisherDropsUnencodablePayload(t *testing.T) {
	b := broker.NewMemory(0)
	sub, _ := b.Subscribe(context.Background(), ChannelName(2))
	defer sub.Close()

	p := NewPublisher(b, PublisherOptions{})
	p.PublishCreated(context.Background(), 2, map[string]any{"bad": make(chan int)})
	p.PublishDeleted(context.Background(), 2, 5)
	p.Close()

	if got := receive(t, sub); got != `{"type":"issue_deleted","data":{"issue_id":5}}` {
		t.Errorf("got %s, want only the encodable event", got)
	}
}

func TestPublisherAfterCloseIsNoop(t *testing.T) {
	p := NewPublisher(broker.NewMemory(0), PublisherOptions{})
	p.Close()
	p.Close()

	p.PublishDeleted(context.Background(), 1, 1)
}

// blockingBroker holds every publish until release is closed.
type blockingBroker struct {
	*broker.Memory
	release chan struct{}
}

func (b *blockingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	<-b.release
	return b.Memory.Publish(ctx, channel, payload)
}

func TestPublisherNeverBlocksCaller(t *testing.T) {
	b := &blockingBroker{Memory: broker.NewMemory(0), release: make(chan struct{})}
	p := NewPublisher(b, PublisherOptions{QueueSize: 2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.PublishDeleted(context.Background(), 1, int64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a stalled broker")
	}
	close(b.release)
	p.Close()
}
