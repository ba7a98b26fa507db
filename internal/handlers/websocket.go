package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/logging"
	"github.com/zyro/backend/internal/middleware"
	"github.com/zyro/backend/internal/realtime"
	"github.com/zyro/backend/internal/services"
)

const (
	closeReasonAuthRequired = "Authentication required"
	closeReasonInvalidToken = "Invalid token"
	closeReasonUserNotFound = "User not found"
	closeReasonUserInactive = "User inactive"
	closeReasonShutdown     = "Server shutting down"
	closeReasonSlowConsumer = "Slow consumer"

	maxClientMessageSize = 64 * 1024
)

// TokenResolver authenticates the handshake token.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*services.Claims, db.User, error)
}

// RoomManager joins and leaves project rooms.
type RoomManager interface {
	Connect(ctx context.Context, member realtime.Member)
	Disconnect(conn realtime.Conn)
}

// WebSocketOptions tunes keepalive and buffering. Zero fields take their defaults.
type WebSocketOptions struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// CheckOrigin overrides the upgrader's origin check. Nil allows every origin;
	// the token is the credential.
	CheckOrigin func(*http.Request) bool
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// WebSocketHandler serves /ws/issues/{projectID}. A connection moves through
// authentication, joins the project room, then echoes pings until it closes.
type WebSocketHandler struct {
	rooms    RoomManager
	authn    TokenResolver
	opts     WebSocketOptions
	upgrader websocket.Upgrader

	// mu orders active.Add against the shutdown signal.
	mu       sync.Mutex
	closing  bool
	shutdown chan struct{}
	active   sync.WaitGroup
}

func NewWebSocketHandler(rooms RoomManager, authn TokenResolver, opts WebSocketOptions) *WebSocketHandler {
	opts = opts.withDefaults()
	return &WebSocketHandler{
		rooms: rooms,
		authn: authn,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		shutdown: make(chan struct{}),
	}
}

// Shutdown closes every open connection with 1001 and waits for their
// handlers to return or ctx to expire.
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.shutdown)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve upgrades the request and runs the connection until it ends.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil || projectID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid project ID")
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	h.active.Add(1)
	h.mu.Unlock()
	defer h.active.Done()

	// Upgrade first: a close frame with a reason needs an open websocket.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", append(logging.RequestFields(r.Context()), slog.Any("error", err))...)
		return
	}

	user, ok := h.authenticate(r, conn)
	if !ok {
		return
	}

	ctx := logging.UpdateRequestAttrs(r.Context(), user.ID, user.Role)
	client := newWSClient(conn, h.opts, h.shutdown)
	log := slog.With(
		slog.String("conn_id", client.id),
		slog.Int64("project_id", projectID),
		slog.Int64("user_id", user.ID),
	)

	// The welcome sits at the head of the queue before the room can fan
	// anything out to this client, so it is always the first frame.
	welcome, err := realtime.Encode(realtime.Connected{
		UserID:  user.ID,
		Message: fmt.Sprintf("Connected to project %d", projectID),
	})
	if err != nil {
		log.Warn("websocket welcome failed", slog.Any("error", err))
		h.reject(conn, websocket.CloseInternalServerErr, "")
		return
	}
	client.send <- welcome
	go client.writePump()

	h.rooms.Connect(ctx, realtime.Member{
		Conn:      client,
		ProjectID: projectID,
		UserID:    user.ID,
		UserName:  user.Name,
	})
	defer h.rooms.Disconnect(client)
	log.Info("websocket connected")

	h.readLoop(client, log)

	client.close(websocket.CloseNormalClosure, "")
	client.wait()
}

// authenticate validates the token query parameter. Failures close the socket
// with 1008 and are never registered.
func (h *WebSocketHandler) authenticate(r *http.Request, conn *websocket.Conn) (db.User, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventWebSocketRejected, "websocket without token")
		h.reject(conn, websocket.ClosePolicyViolation, closeReasonAuthRequired)
		return db.User{}, false
	}

	_, user, err := h.authn.Resolve(r.Context(), token)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrExpiredToken):
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventWebSocketRejected, "websocket with invalid token")
		h.reject(conn, websocket.ClosePolicyViolation, closeReasonInvalidToken)
	case errors.Is(err, middleware.ErrUserNotFound):
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventWebSocketRejected, "websocket for unknown user")
		h.reject(conn, websocket.ClosePolicyViolation, closeReasonUserNotFound)
	case errors.Is(err, middleware.ErrInactiveUser):
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventWebSocketRejected, "websocket for inactive user")
		h.reject(conn, websocket.ClosePolicyViolation, closeReasonUserInactive)
	default:
		logging.LogErrorWithStatus(r.Context(), http.StatusInternalServerError, "websocket authentication failed",
			logging.WrapError(err, "resolve user"))
		h.reject(conn, websocket.CloseInternalServerErr, "")
	}
	return db.User{}, false
}

func (h *WebSocketHandler) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(h.opts.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// readLoop handles inbound frames until the peer goes away or the server closes
// the connection. Only {"type":"ping"} gets a reply.
func (h *WebSocketHandler) readLoop(c *wsClient, log *slog.Logger) {
	c.conn.SetReadLimit(maxClientMessageSize)
	extend := func() { _ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)) }
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			h.logExit(c, log, err)
			return
		}
		extend()

		env, err := realtime.Decode(data)
		if err != nil {
			log.Debug("websocket ignoring unparseable frame", slog.Int("bytes", len(data)))
			continue
		}

		switch env.(type) {
		case realtime.Ping:
			pong, _ := realtime.Encode(realtime.Pong{})
			if err := c.sendTimeout(pong); errors.Is(err, realtime.ErrClosed) {
				return
			}
		default:
			log.Debug("websocket ignoring frame", slog.String("type", string(env.Type())))
		}
	}
}

func (h *WebSocketHandler) logExit(c *wsClient, log *slog.Logger, err error) {
	if code, reason, ok := c.closedBy(); ok {
		log.Info("websocket closed by server", slog.Int("code", code), slog.String("reason", reason))
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Info("websocket disconnected")
		return
	}
	log.Warn("websocket connection lost", slog.Any("error", err))
}

// wsClient is one upgraded connection. Only writePump writes data frames.
type wsClient struct {
	id       string
	conn     *websocket.Conn
	opts     WebSocketOptions
	send     chan []byte
	shutdown <-chan struct{}

	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
	code      int
	reason    string
}

func newWSClient(conn *websocket.Conn, opts WebSocketOptions, shutdown <-chan struct{}) *wsClient {
	return &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		shutdown: shutdown,
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// Send queues payload for the write pump. A queue that stays full until ctx's
// deadline marks the client as a slow consumer and closes it.
func (c *wsClient) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return realtime.ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return realtime.ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.close(websocket.CloseTryAgainLater, closeReasonSlowConsumer)
			return realtime.ErrSlowConsumer
		}
		return ctx.Err()
	}
}

func (c *wsClient) sendTimeout(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return c.Send(ctx, payload)
}

// close asks the write pump to send a close frame and release the socket.
// The first call wins.
func (c *wsClient) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.code = code
		c.reason = reason
		close(c.done)
	})
}

// closedBy reports the close code when the server side initiated the close.
func (c *wsClient) closedBy() (int, string, bool) {
	select {
	case <-c.done:
		return c.code, c.reason, true
	default:
		return 0, "", false
	}
}

func (c *wsClient) wait() {
	<-c.pumpDone
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	shutdown := c.shutdown
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-shutdown:
			shutdown = nil
			c.close(websocket.CloseGoingAway, closeReasonShutdown)
		case <-c.done:
			if c.code != websocket.CloseAbnormalClosure {
				deadline := time.Now().Add(c.opts.WriteTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.code, c.reason), deadline)
			}
			return
		}
	}
}
