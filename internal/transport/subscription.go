package transport

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 256

var _ Subscription = (*subscription)(nil)

// subscription buffers envelopes in inbox and hands them to the reader over
// the unbuffered out channel, so nothing is left in flight once Cancel has
// waited for the producers.
type subscription struct {
	topic string
	inbox chan Message
	out   chan Message
	done  chan struct{}

	wg       sync.WaitGroup
	once     sync.Once
	onCancel func()
}

func newSubscription(topic string, buffer int, onCancel func()) *subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &subscription{
		topic:    topic,
		inbox:    make(chan Message, buffer),
		out:      make(chan Message),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
	s.goProducer(s.pump)
	return s
}

func (s *subscription) Messages() <-chan Message {
	return s.out
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
		s.wg.Wait()
		close(s.out)
	})
}

// cancelOn cancels the subscription when ctx ends.
func (s *subscription) cancelOn(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()
}

// goProducer runs fn on a goroutine that Cancel waits for.
func (s *subscription) goProducer(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// offer queues m without blocking. It reports false if the buffer is full or
// the subscription is cancelled.
func (s *subscription) offer(m Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	default:
		return false
	}
}

// push queues m, waiting for room. It reports false if the subscription is
// cancelled first.
func (s *subscription) push(m Message) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.inbox:
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
	}
}
