package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

var _ Transport = (*Memory)(nil)

// Memory is an in-process network. Every published envelope is appended to
// the topic history and fanned out to live subscribers. Subscribers that fall
// more than their buffer behind lose envelopes; a later history replay
// recovers them.
type Memory struct {
	mu          sync.RWMutex
	history     map[string][]Message
	subscribers map[string]map[*subscription]struct{}
	publishErr  error
	lastStamp   int64
	closed      bool

	ready     chan struct{}
	readyOnce sync.Once

	buffer int
	log    *zap.Logger
}

// MemoryOption configures a Memory transport.
type MemoryOption func(*Memory)

// WithSubscriberBuffer sets how many envelopes a subscriber may lag behind.
func WithSubscriberBuffer(n int) MemoryOption {
	return func(m *Memory) {
		m.buffer = n
	}
}

// StartReady makes the transport ready from construction.
func StartReady() MemoryOption {
	return func(m *Memory) {
		m.MarkReady()
	}
}

func NewMemory(log *zap.Logger, opts ...MemoryOption) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Memory{
		history:     make(map[string][]Message),
		subscribers: make(map[string]map[*subscription]struct{}),
		ready:       make(chan struct{}),
		buffer:      defaultSubscriberBuffer,
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkReady releases every pending and future Ready call.
func (m *Memory) MarkReady() {
	m.readyOnce.Do(func() {
		close(m.ready)
	})
}

// FailPublish makes every following Publish fail with err. A nil err restores
// normal operation.
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *Memory) Ready(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) isReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if !m.isReady() {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &PublishError{Topic: topic, Err: ErrClosed}
	}
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return &PublishError{Topic: topic, Err: err}
	}

	msg := Message{
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		Timestamp: m.stampLocked(),
	}
	m.history[topic] = append(m.history[topic], msg)
	subs := m.subscribersLocked(topic)
	m.mu.Unlock()

	m.fanOut(subs, msg)
	return nil
}

// Seed appends envelopes to the history without delivering them live, as if
// they had been published before this node joined.
func (m *Memory) Seed(topic string, payloads ...[]byte) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	seeded := make([]Message, 0, len(payloads))
	for _, payload := range payloads {
		msg := Message{
			Topic:     topic,
			Payload:   append([]byte(nil), payload...),
			Timestamp: m.stampLocked(),
		}
		m.history[topic] = append(m.history[topic], msg)
		seeded = append(seeded, msg)
	}
	return seeded
}

// Redeliver pushes an already published envelope to live subscribers again,
// the way relays do while a peer reconnects.
func (m *Memory) Redeliver(msg Message) {
	m.mu.RLock()
	subs := m.subscribersLocked(msg.Topic)
	m.mu.RUnlock()

	m.fanOut(subs, msg)
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if !m.isReady() {
		return nil, ErrNotReady
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var sub *subscription
	sub = newSubscription(topic, m.buffer, func() {
		m.removeSubscriber(topic, sub)
	})
	if m.subscribers[topic] == nil {
		m.subscribers[topic] = make(map[*subscription]struct{})
	}
	m.subscribers[topic][sub] = struct{}{}
	sub.cancelOn(ctx)
	return sub, nil
}

func (m *Memory) QueryHistory(ctx context.Context, topic string, fn func(Message) error) error {
	if !m.isReady() {
		return ErrNotReady
	}

	m.mu.RLock()
	history := m.history[topic]
	m.mu.RUnlock()

	// history is append-only, so the slice header taken above stays valid.
	for _, msg := range history {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

// Close cancels every subscription. Later operations fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	var subs []*subscription
	for _, set := range m.subscribers {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}

// stampLocked returns a strictly increasing publish timestamp.
func (m *Memory) stampLocked() int64 {
	now := time.Now().UnixNano()
	if now <= m.lastStamp {
		now = m.lastStamp + 1
	}
	m.lastStamp = now
	return now
}

func (m *Memory) subscribersLocked(topic string) []*subscription {
	subs := make([]*subscription, 0, len(m.subscribers[topic]))
	for sub := range m.subscribers[topic] {
		subs = append(subs, sub)
	}
	return subs
}

func (m *Memory) fanOut(subs []*subscription, msg Message) {
	for _, sub := range subs {
		if !sub.offer(msg) {
			m.log.Warn("dropping envelope for slow subscriber",
				zap.String("topic", msg.Topic),
				zap.Int64("timestamp", msg.Timestamp),
			)
		}
	}
}

func (m *Memory) removeSubscriber(topic string, sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers[topic], sub)
	if len(m.subscribers[topic]) == 0 {
		delete(m.subscribers, topic)
	}
}
