package realtime

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSlowConsumer is returned by Send when the client's queue stayed full
	// until the send deadline.
	ErrSlowConsumer = errors.New("realtime: slow consumer")
	// ErrClosed is returned by Send on a connection that has shut down.
	ErrClosed = errors.New("realtime: connection closed")
)

// Conn is a live client connection able to receive serialized envelopes.
// Implementations must be comparable (pointer types) and safe for concurrent Send.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
}

// Member is the registry metadata kept for one connection.
type Member struct {
	Conn      Conn
	ProjectID int64
	UserID    int64
	UserName  string
}

// Registry tracks which connections belong to which project. It does not start
// or stop listeners; the Manager is its only writer.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[int64]map[Conn]struct{}
	members map[Conn]Member
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[int64]map[Conn]struct{}),
		members: make(map[Conn]Member),
	}
}

// Register adds m.Conn to its project's set and records its metadata. It
// reports whether the set was empty beforehand. Registering a connection again
// overwrites its metadata without double counting. A connection registered
// under another project is removed from that project's set, so it is never a
// member of two projects. Stopping the old project's listener is the Manager's
// job; it unregisters before moving a connection.
func (r *Registry) Register(m Member) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.members[m.Conn]; ok && prev.ProjectID != m.ProjectID {
		if old := r.rooms[prev.ProjectID]; old != nil {
			delete(old, m.Conn)
			if len(old) == 0 {
				delete(r.rooms, prev.ProjectID)
			}
		}
	}

	set, ok := r.rooms[m.ProjectID]
	if !ok {
		set = make(map[Conn]struct{})
		r.rooms[m.ProjectID] = set
	}
	first = len(set) == 0
	set[m.Conn] = struct{}{}
	r.members[m.Conn] = m
	return first
}

// Unregister removes conn. ok is false when conn was not registered, which makes
// duplicate disconnects harmless. last reports that the project's set is now empty.
func (r *Registry) Unregister(conn Conn) (m Member, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok = r.members[conn]
	if !ok {
		return Member{}, false, false
	}

	if set, exists := r.rooms[m.ProjectID]; exists {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.rooms, m.ProjectID)
			last = true
		}
	} else {
		last = true
	}
	// Metadata goes last so a concurrent broadcast never sees a member without it.
	delete(r.members, conn)
	return m, last, true
}

// Lookup returns the metadata registered for conn.
func (r *Registry) Lookup(conn Conn) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[conn]
	return m, ok
}

// Members returns a snapshot of the connections registered for projectID.
func (r *Registry) Members(projectID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[projectID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the number of connections registered for projectID.
func (r *Registry) Count(projectID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}
