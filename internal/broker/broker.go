// Package broker abstracts the publish/subscribe backend used to fan realtime
// events from writers to listeners. Redis is used when configured; the in-process
// Memory broker serves single-instance deployments and tests.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoMessage is returned by Subscription.Receive when the wait elapsed
	// without a message arriving. Callers treat it as "poll again".
	ErrNoMessage = errors.New("broker: no message")

	// ErrClosed is returned when operating on a closed subscription or broker.
	ErrClosed = errors.New("broker: closed")
)

// Broker publishes payloads to named channels and opens subscriptions on them.
// Implementations must be safe for concurrent use.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a single-channel subscription handle. Receive and Close may be
// called from different goroutines; Close is idempotent.
type Subscription interface {
	// Receive waits up to wait for the next payload. It returns ErrNoMessage when
	// the wait elapses and ctx.Err() when ctx is cancelled first.
	Receive(ctx context.Context, wait time.Duration) ([]byte, error)
	Close() error
}
