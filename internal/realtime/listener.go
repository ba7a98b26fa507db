package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zyro/backend/internal/broker"
)

// listener bridges one project's broker channel to the project's registered
// connections. It owns its subscription and releases it on every exit path.
type listener struct {
	projectID int64
	sub       broker.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// startListener subscribes to the project's channel and starts the receive loop.
func (m *Manager) startListener(ctx context.Context, projectID int64) (*listener, error) {
	subCtx, cancel := context.WithTimeout(ctx, m.opts.SubscribeTimeout)
	defer cancel()

	sub, err := m.broker.Subscribe(subCtx, ChannelName(projectID))
	if err != nil {
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	l := &listener{
		projectID: projectID,
		sub:       sub,
		cancel:    stop,
		done:      make(chan struct{}),
	}
	go l.run(runCtx, m)

	slog.Info("realtime: listener started",
		slog.Int64("project_id", projectID),
		slog.String("channel", ChannelName(projectID)))
	return l, nil
}

// stop cancels the loop and waits until the subscription has been released.
func (l *listener) stop() {
	l.cancel()
	<-l.done
}

// running reports whether the loop has not exited yet.
func (l *listener) running() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *listener) run(ctx context.Context, m *Manager) {
	defer close(l.done)
	defer func() {
		if err := l.sub.Close(); err != nil {
			slog.Warn("realtime: unsubscribe failed",
				slog.Int64("project_id", l.projectID),
				slog.Any("error", err))
		}
		slog.Info("realtime: listener stopped", slog.Int64("project_id", l.projectID))
	}()

	for ctx.Err() == nil {
		payload, err := l.sub.Receive(ctx, m.opts.PollInterval)
		if err != nil {
			switch {
			case errors.Is(err, broker.ErrNoMessage):
			case ctx.Err() != nil:
				return
			case errors.Is(err, broker.ErrClosed):
				slog.Warn("realtime: subscription closed by broker", slog.Int64("project_id", l.projectID))
				return
			default:
				slog.Warn("realtime: receive failed",
					slog.Int64("project_id", l.projectID),
					slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.opts.PollInterval):
				}
			}
			continue
		}

		env, err := Decode(payload)
		if err != nil {
			slog.Warn("realtime: dropping malformed message",
				slog.Int64("project_id", l.projectID),
				slog.Int("bytes", len(payload)),
				slog.Any("error", err))
			continue
		}
		m.broadcast(ctx, l.projectID, env.Type(), payload)
	}
}

// broadcast delivers payload to every member of the project concurrently and
// returns once every send has finished. Members whose send failed are evicted.
func (m *Manager) broadcast(ctx context.Context, projectID int64, typ EventType, payload []byte) {
	conns := m.registry.Members(projectID)
	if len(conns) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Conn
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	slog.Debug("realtime: broadcast",
		slog.Int64("project_id", projectID),
		slog.String("type", string(typ)),
		slog.Int("recipients", len(conns)),
		slog.Int("failed", len(failed)))

	// Sends cut short by the listener's own teardown say nothing about the client.
	if ctx.Err() != nil {
		return
	}
	for _, c := range failed {
		m.evict(c)
	}
}

// evict removes a connection whose send failed. It runs asynchronously because
// the caller is the listener that a last-member disconnect waits on.
func (m *Manager) evict(c Conn) {
	if member, ok := m.registry.Lookup(c); ok {
		slog.Info("realtime: evicting connection after failed send",
			slog.Int64("project_id", member.ProjectID),
			slog.Int64("user_id", member.UserID))
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Disconnect(c)
	}()
}
