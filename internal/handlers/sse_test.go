package handlers

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zyro/backend/internal/broker"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/realtime"
)

func TestSSEHandler_Stream(t *testing.T) {
	b := broker.NewMemory(0)
	manager := realtime.NewManager(b, realtime.NewRegistry(), realtime.Options{PollInterval: 20 * time.Millisecond})
	publisher := realtime.NewPublisher(b, realtime.PublisherOptions{})
	handler := NewSSEHandler(manager, newMockQueries(), 8)
	member := testUserStore()[2]

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.UserKey, member)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/projects/{projectID}/events", handler.Stream)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		publisher.Close()
		manager.Close()
	})

	// Project 8 has no membership for this user.
	resp, err := http.Get(server.URL + "/projects/8/events")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-member Status = %d, want 403", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/projects/7/events", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	next := func() string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream ended")
				}
				if line != "" {
					return line
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for event")
			}
		}
	}

	if got := next(); got != "event: connected" {
		t.Fatalf("first line = %q", got)
	}
	if got := next(); !strings.Contains(got, `"user_id":2`) {
		t.Errorf("connected data = %q", got)
	}
	if n := manager.MemberCount(7); n != 1 {
		t.Errorf("MemberCount = %d, want 1", n)
	}

	publisher.PublishDeleted(context.Background(), 7, 42)

	if got := next(); got != "event: issue_deleted" {
		t.Fatalf("event line = %q", got)
	}
	if got := next(); got != `data: {"type":"issue_deleted","data":{"issue_id":42}}` {
		t.Errorf("data line = %q", got)
	}

	cancel()
	eventually(t, "stream cleanup", func() bool { return manager.MemberCount(7) == 0 && !manager.Active(7) })
}

// capturingRooms records the connection handed to Connect.
type capturingRooms struct {
	mu           sync.Mutex
	conn         realtime.Conn
	disconnected bool
}

func (r *capturingRooms) Connect(_ context.Context, m realtime.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = m.Conn
}

func (r *capturingRooms) Disconnect(realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

func (r *capturingRooms) state() (realtime.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn, r.disconnected
}

// stalledWriter accepts the first write and blocks every later one until
// released, like a client that stopped reading.
type stalledWriter struct {
	header  http.Header
	mu      sync.Mutex
	writes  int
	release chan struct{}
}

func (w *stalledWriter) Header() http.Header { return w.header }
func (w *stalledWriter) WriteHeader(int)     {}
func (w *stalledWriter) Flush()              {}

func (w *stalledWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.writes++
	n := w.writes
	w.mu.Unlock()
	if n > 1 {
		<-w.release
	}
	return len(p), nil
}

func TestSSEHandler_SlowConsumerEndsStream(t *testing.T) {
	rooms := &capturingRooms{}
	handler := NewSSEHandler(rooms, newMockQueries(), 1)
	w := &stalledWriter{header: http.Header{}, release: make(chan struct{})}

	req := httptest.NewRequest(http.MethodGet, "/projects/7/events", nil)
	req = withParams(asUser(req, testUserStore()[2]), map[string]string{"projectID": "7"})

	done := make(chan struct{})
	go func() {
		handler.Stream(w, req)
		close(done)
	}()

	var conn realtime.Conn
	eventually(t, "stream connect", func() bool {
		conn, _ = rooms.state()
		return conn != nil
	})

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err = conn.Send(ctx, []byte(`{"type":"issue_deleted","data":{"issue_id":1}}`))
		cancel()
	}
	if !errors.Is(err, realtime.ErrSlowConsumer) {
		t.Fatalf("Send() error = %v, want ErrSlowConsumer", err)
	}
	if err := conn.Send(context.Background(), []byte(`{}`)); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("Send() after eviction error = %v, want ErrClosed", err)
	}

	close(w.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after slow consumer eviction")
	}
	if _, disconnected := rooms.state(); !disconnected {
		t.Error("stream did not leave its room")
	}
}
