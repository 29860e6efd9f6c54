package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnsubscribed is returned by Next after the subscription was
	// removed by its owner.
	ErrUnsubscribed = errors.New("client unsubscribed")

	// ErrOutOfCapacity is returned by Next after the consumer fell more
	// than the subscription capacity behind the publisher.
	ErrOutOfCapacity = errors.New("client is not pulling messages fast enough")
)

// Subscription is one consumer's view of a Server. Messages are queued
// until the consumer pulls them with Next or Drain.
type Subscription[T any] struct {
	id       string
	srv      *Server[T]
	capacity int

	mtx      sync.Mutex
	queue    []T
	err      error
	signal   chan struct{}
	canceled chan struct{}
}

func newSubscription[T any](srv *Server[T], capacity int) *Subscription[T] {
	return &Subscription[T]{
		id:       uuid.NewString(),
		srv:      srv,
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		canceled: make(chan struct{}),
	}
}

// ID returns the unique subscription identifier.
func (s *Subscription[T]) ID() string { return s.id }

// Canceled returns a channel that is closed once the subscription is
// canceled. Queued messages may still be pulled afterwards.
func (s *Subscription[T]) Canceled() <-chan struct{} { return s.canceled }

// Err returns the cancellation reason, or nil while the subscription is
// active.
func (s *Subscription[T]) Err() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.err
}

// Len returns the number of queued messages.
func (s *Subscription[T]) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.queue)
}

// Next blocks until a message is queued, the subscription is canceled or
// ctx is done. Queued messages are returned before the cancellation
// error.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mtx.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mtx.Unlock()
			return msg, nil
		}
		err := s.err
		s.mtx.Unlock()
		if err != nil {
			return zero, err
		}

		select {
		case <-s.signal:
		case <-s.canceled:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drain removes and returns every queued message without blocking.
func (s *Subscription[T]) Drain() []T {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	msgs := s.queue
	s.queue = nil
	return msgs
}

// Unsubscribe removes the subscription from its server. Calling it more
// than once, or after the server canceled the subscription, is a no-op.
func (s *Subscription[T]) Unsubscribe() {
	_ = s.srv.Unsubscribe(s)
}

func (s *Subscription[T]) push(msg T) bool {
	s.mtx.Lock()
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		s.mtx.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mtx.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription[T]) cancel(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.canceled)
}
