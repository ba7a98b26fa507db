package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/realtime"
)

const sseHeartbeat = 30 * time.Second

// SSEHandler streams project updates as Server-Sent Events for clients that
// cannot hold a websocket. It joins the same rooms as the websocket endpoint.
type SSEHandler struct {
	rooms    RoomManager
	projects ProjectAccess
	buffer   int
}

// NewSSEHandler creates an SSEHandler. buffer sizes each stream's queue.
func NewSSEHandler(rooms RoomManager, projects ProjectAccess, buffer int) *SSEHandler {
	if buffer <= 0 {
		buffer = 64
	}
	return &SSEHandler{rooms: rooms, projects: projects, buffer: buffer}
}

// sseClient adapts one event stream to realtime.Conn.
type sseClient struct {
	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *sseClient) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return realtime.ErrClosed
	default:
	}
	select {
	case c.events <- payload:
		return nil
	case <-c.done:
		return realtime.ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The room has already dropped this stream; end it so the
			// browser's EventSource reconnects.
			c.close()
			return realtime.ErrSlowConsumer
		}
		return ctx.Err()
	}
}

func (c *sseClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Stream sends an initial "connected" event, then one event per envelope
// named after its type. A heartbeat comment is sent every 30 seconds to keep
// the connection alive through proxies.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	project, ok := authorizeProject(w, r, h.projects)
	if !ok {
		return
	}
	user, _ := middleware.GetUser(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan []byte, h.buffer), done: make(chan struct{})}
	defer client.close()

	h.rooms.Connect(r.Context(), realtime.Member{
		Conn:      client,
		ProjectID: project.ID,
		UserID:    user.ID,
		UserName:  user.Name,
	})
	defer h.rooms.Disconnect(client)

	welcome, err := realtime.Encode(realtime.Connected{
		UserID:  user.ID,
		Message: fmt.Sprintf("Connected to project %d", project.ID),
	})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", realtime.TypeConnected, welcome)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case payload := <-client.events:
			env, err := realtime.Decode(payload)
			if err != nil {
				slog.Debug("sse skipping undecodable payload", slog.Int64("project_id", project.ID))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type(), payload); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
