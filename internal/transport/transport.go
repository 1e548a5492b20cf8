// Package transport abstracts the publish/subscribe network that carries
// poll envelopes between forum peers.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by operations attempted before Ready succeeded.
	ErrNotReady = errors.New("transport not ready")
	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Message is one envelope observed on a topic.
type Message struct {
	Topic   string
	Payload []byte
	// Timestamp is stamped by the network when the envelope is published, in
	// unix nanoseconds. History and live delivery of the same envelope carry
	// the same value.
	Timestamp int64
}

// Transport is the network collaborator.
type Transport interface {
	// Ready blocks until the transport is minimally connected.
	Ready(ctx context.Context) error
	// Publish sends payload on topic. Failures are returned as *PublishError
	// and are never retried here.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe opens a live stream of envelopes on topic. The stream never
	// ends on its own; the caller must Cancel it.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// QueryHistory replays the envelopes previously published on topic, in
	// the network's delivery order, calling fn for each. A non-nil error from
	// fn stops the replay and is returned.
	QueryHistory(ctx context.Context, topic string, fn func(Message) error) error
}

// Subscription is a live envelope stream.
type Subscription interface {
	Messages() <-chan Message
	// Cancel stops the stream. It is safe to call more than once; no message
	// is delivered after it returns and Messages is closed.
	Cancel()
}

// PublishError reports a failed send.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish on %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
