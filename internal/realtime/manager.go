package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zyro/backend/internal/broker"
)

// Options tunes listener behavior. Zero fields take their defaults.
type Options struct {
	// PollInterval bounds each broker wait, so cancellation is noticed within it.
	PollInterval time.Duration
	// SendTimeout bounds a single connection send during fan-out.
	SendTimeout time.Duration
	// SubscribeTimeout bounds the broker subscribe call made on first join.
	SubscribeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 3 * time.Second
	}
	return o
}

// Manager coordinates the Registry with per-project listeners: the first
// connection to a project starts its listener and the last one to leave stops
// it. Start and stop for one project are serialized by the room lock.
type Manager struct {
	broker   broker.Broker
	registry *Registry
	opts     Options

	mu     sync.Mutex
	rooms  map[int64]*room
	closed bool

	// wg tracks asynchronous evictions.
	wg sync.WaitGroup
}

// room serializes listener transitions for one project. refs counts goroutines
// holding or waiting for mu; the entry is dropped once idle and unreferenced.
type room struct {
	mu       sync.Mutex
	refs     int
	listener *listener
}

// NewManager creates a Manager that subscribes through b and records members in reg.
func NewManager(b broker.Broker, reg *Registry, opts Options) *Manager {
	return &Manager{
		broker:   b,
		registry: reg,
		opts:     opts.withDefaults(),
		rooms:    make(map[int64]*room),
	}
}

// Registry returns the registry the Manager writes to.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) acquire(projectID int64) *room {
	m.mu.Lock()
	r, ok := m.rooms[projectID]
	if !ok {
		r = &room{}
		m.rooms[projectID] = r
	}
	r.refs++
	m.mu.Unlock()

	r.mu.Lock()
	return r
}

func (m *Manager) release(projectID int64, r *room) {
	r.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	r.refs--
	// With no references left nobody holds r.mu, so r.listener is stable here.
	if r.refs == 0 && r.listener == nil && m.rooms[projectID] == r {
		delete(m.rooms, projectID)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Connect registers member and makes sure its project has a running listener.
// A listener that cannot be started is logged and the connection stays
// registered without live updates.
func (m *Manager) Connect(ctx context.Context, member Member) {
	if prev, ok := m.registry.Lookup(member.Conn); ok && prev.ProjectID != member.ProjectID {
		m.Disconnect(member.Conn)
	}

	r := m.acquire(member.ProjectID)
	defer m.release(member.ProjectID, r)

	m.registry.Register(member)
	slog.Info("realtime: connection joined",
		slog.Int64("project_id", member.ProjectID),
		slog.Int64("user_id", member.UserID),
		slog.Int("members", m.registry.Count(member.ProjectID)))

	if r.listener != nil && r.listener.running() {
		return
	}
	r.listener = nil
	if m.isClosed() {
		return
	}

	l, err := m.startListener(ctx, member.ProjectID)
	if err != nil {
		slog.Warn("realtime: listener unavailable, connection continues without live updates",
			slog.Int64("project_id", member.ProjectID),
			slog.Any("error", err))
		return
	}
	r.listener = l
}

// Disconnect unregisters conn and stops the project's listener when conn was
// its last member. Unknown connections are ignored, so repeated calls are safe.
func (m *Manager) Disconnect(conn Conn) {
	for {
		member, ok := m.registry.Lookup(conn)
		if !ok {
			return
		}

		r := m.acquire(member.ProjectID)
		if current, ok := m.registry.Lookup(conn); !ok || current.ProjectID != member.ProjectID {
			// Moved or removed while waiting for the room.
			m.release(member.ProjectID, r)
			continue
		}

		_, last, _ := m.registry.Unregister(conn)
		slog.Info("realtime: connection left",
			slog.Int64("project_id", member.ProjectID),
			slog.Int64("user_id", member.UserID))

		if last && r.listener != nil {
			r.listener.stop()
			r.listener = nil
		}
		m.release(member.ProjectID, r)
		return
	}
}

// Active reports whether a listener is running for projectID.
func (m *Manager) Active(projectID int64) bool {
	m.mu.Lock()
	r, ok := m.rooms[projectID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener != nil && r.listener.running()
}

// MemberCount returns the number of connections registered for projectID.
func (m *Manager) MemberCount(projectID int64) int {
	return m.registry.Count(projectID)
}

// Close stops every listener and waits for pending evictions. Connections stay
// registered until their transports disconnect; no new listeners are started.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := make(map[int64]*room, len(m.rooms))
	for id, r := range m.rooms {
		rooms[id] = r
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.listener != nil {
			r.listener.stop()
			r.listener = nil
		}
		r.mu.Unlock()
	}
	m.wg.Wait()
}
