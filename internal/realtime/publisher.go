package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zyro/backend/internal/broker"
	"github.com/zyro/backend/internal/logging"
)

// PublisherOptions tunes the Publisher. Zero fields take their defaults.
type PublisherOptions struct {
	// Timeout bounds a single broker publish.
	Timeout time.Duration
	// QueueSize is the number of events buffered ahead of the broker.
	QueueSize int
}

// Publisher turns issue mutations into envelopes on the project's channel.
// Publishing never blocks the caller and never fails it: events are serialized
// immediately, queued, and sent by a single worker so their order is preserved.
// Broker errors are logged and dropped.
type Publisher struct {
	broker  broker.Broker
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan publication
	done   chan struct{}
}

type publication struct {
	projectID int64
	typ       EventType
	payload   []byte
}

// NewPublisher starts a Publisher writing to b. Call Close to drain it.
func NewPublisher(b broker.Broker, opts PublisherOptions) *Publisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	p := &Publisher{
		broker:  b,
		timeout: opts.Timeout,
		queue:   make(chan publication, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishCreated announces a new issue in projectID.
func (p *Publisher) PublishCreated(ctx context.Context, projectID int64, issue any) {
	p.enqueue(ctx, projectID, IssueCreated{Data: issue})
}

// PublishUpdated announces a changed issue in projectID.
func (p *Publisher) PublishUpdated(ctx context.Context, projectID int64, issue any) {
	p.enqueue(ctx, projectID, IssueUpdated{Data: issue})
}

// PublishDeleted announces the removal of issueID from projectID.
func (p *Publisher) PublishDeleted(ctx context.Context, projectID, issueID int64) {
	p.enqueue(ctx, projectID, IssueDeleted{IssueID: issueID})
}

func (p *Publisher) enqueue(ctx context.Context, projectID int64, env Envelope) {
	payload, err := Encode(env)
	if err != nil {
		fields := append(logging.RequestFields(ctx),
			slog.Int64("project_id", projectID),
			slog.Any("error", logging.WrapError(err, "encode realtime event")))
		slog.ErrorContext(ctx, "realtime: event not published", fields...)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		slog.WarnContext(ctx, "realtime: publisher closed, dropping event",
			slog.Int64("project_id", projectID),
			slog.String("type", string(env.Type())))
		return
	}

	select {
	case p.queue <- publication{projectID: projectID, typ: env.Type(), payload: payload}:
	default:
		slog.WarnContext(ctx, "realtime: publish queue full, dropping event",
			slog.Int64("project_id", projectID),
			slog.String("type", string(env.Type())))
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for pub := range p.queue {
		p.publish(pub)
	}
}

func (p *Publisher) publish(pub publication) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	channel := ChannelName(pub.projectID)
	if err := p.broker.Publish(ctx, channel, pub.payload); err != nil {
		slog.Error("realtime: publish failed",
			slog.Int64("project_id", pub.projectID),
			slog.String("type", string(pub.typ)),
			slog.Any("error", logging.WrapError(err, "publish "+channel)))
		return
	}
	slog.Debug("realtime: published",
		slog.String("channel", channel),
		slog.String("type", string(pub.typ)))
}

// Close stops accepting events and returns once queued events have been sent.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
