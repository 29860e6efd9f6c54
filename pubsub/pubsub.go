// Package pubsub implements a single-publisher, multi-subscriber
// broadcast point with explicit subscription handles.
//
// Publish never blocks the caller. Every subscription owns a private
// queue; a message is appended to the queue of every subscription that
// is registered at the moment Publish runs. Subscribe and Publish are
// serialized, so a new subscription observes exactly the messages
// published after Subscribe returned.
//
// A subscription created with a positive capacity is canceled with
// ErrOutOfCapacity when its consumer falls that many messages behind.
// The consumer still receives everything queued before the overflow,
// then the error; messages are never skipped silently.
//
//	sub, err := srv.Subscribe(64)
//	if err != nil {
//		return err
//	}
//	defer sub.Unsubscribe()
//	for {
//		msg, err := sub.Next(ctx)
//		if err != nil {
//			return err
//		}
//		// handle msg
//	}
package pubsub

import (
	"errors"
	"sync"
)

var (
	// ErrServerStopped is returned by Subscribe after Stop, and by Next
	// once a subscription's server has been stopped.
	ErrServerStopped = errors.New("pubsub server stopped")

	// ErrSubscriptionNotFound is returned when unsubscribing a
	// subscription that is not registered.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Server fans out published messages to its subscriptions.
type Server[T any] struct {
	mtx     sync.Mutex
	subs    map[string]*Subscription[T]
	stopped bool
}

// NewServer returns a running server with no subscriptions.
func NewServer[T any]() *Server[T] {
	return &Server[T]{
		subs: make(map[string]*Subscription[T]),
	}
}

// Subscribe registers a new subscription. A capacity of zero leaves the
// subscription queue unbounded.
func (s *Server[T]) Subscribe(capacity int) (*Subscription[T], error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		return nil, ErrServerStopped
	}
	sub := newSubscription(s, capacity)
	s.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes sub from the server and cancels it with
// ErrUnsubscribed.
func (s *Server[T]) Unsubscribe(sub *Subscription[T]) error {
	if !s.remove(sub) {
		return ErrSubscriptionNotFound
	}
	sub.cancel(ErrUnsubscribed)
	return nil
}

// Publish appends msg to the queue of every registered subscription.
// Subscriptions that overflow are removed and canceled.
func (s *Server[T]) Publish(msg T) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		return
	}
	for id, sub := range s.subs {
		if !sub.push(msg) {
			delete(s.subs, id)
			sub.cancel(ErrOutOfCapacity)
		}
	}
}

// NumSubscriptions returns the number of registered subscriptions.
func (s *Server[T]) NumSubscriptions() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.subs)
}

// Stop cancels every subscription with ErrServerStopped and refuses
// further subscriptions. It is safe to call more than once.
func (s *Server[T]) Stop() {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	s.stopped = true
	subs := s.subs
	s.subs = make(map[string]*Subscription[T])
	s.mtx.Unlock()

	for _, sub := range subs {
		sub.cancel(ErrServerStopped)
	}
}

func (s *Server[T]) remove(sub *Subscription[T]) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.subs[sub.id]; !ok {
		return false
	}
	delete(s.subs, sub.id)
	return true
}
