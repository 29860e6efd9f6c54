package pubsub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerq/pubsub"
)

func TestSubscribeSeesOnlyLaterMessages(t *testing.T) {
	srv := pubsub.NewServer[int]()
	defer srv.Stop()

	srv.Publish(1)
	sub, err := srv.Subscribe(0)
	require.NoError(t, err)
	srv.Publish(2)
	srv.Publish(3)

	require.Equal(t, []int{2, 3}, sub.Drain())
	require.Empty(t, sub.Drain())
}

func TestNextBlocksUntilPublish(t *testing.T) {
	defer leaktest.Check(t)()

	srv := pubsub.NewServer[string]()
	defer srv.Stop()
	sub, err := srv.Subscribe(0)
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		msg, err := sub.Next(context.Background())
		if err == nil {
			got <- msg
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	srv.Publish("hello")

	select {
	case msg := <-got:
		require.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Publish")
	}
}

func TestNextHonoursContext(t *testing.T) {
	srv := pubsub.NewServer[int]()
	defer srv.Stop()
	sub, err := srv.Subscribe(0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribe(t *testing.T) {
	srv := pubsub.NewServer[int]()
	defer srv.Stop()
	sub, err := srv.Subscribe(0)
	require.NoError(t, err)
	require.Equal(t, 1, srv.NumSubscriptions())

	srv.Publish(7)
	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Equal(t, 0, srv.NumSubscriptions())
	require.ErrorIs(t, srv.Unsubscribe(sub), pubsub.ErrSubscriptionNotFound)

	srv.Publish(8)

	// Messages queued before cancellation are still delivered.
	msg, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, msg)

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, pubsub.ErrUnsubscribed)
	require.ErrorIs(t, sub.Err(), pubsub.ErrUnsubscribed)

	select {
	case <-sub.Canceled():
	default:
		t.Fatal("Canceled channel not closed")
	}
}

func TestOutOfCapacity(t *testing.T) {
	srv := pubsub.NewServer[int]()
	defer srv.Stop()
	slow, err := srv.Subscribe(2)
	require.NoError(t, err)
	fast, err := srv.Subscribe(0)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		srv.Publish(i)
	}

	require.Equal(t, 1, srv.NumSubscriptions())
	require.Equal(t, 3, fast.Len())

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		msg, err := slow.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, msg)
	}
	_, err = slow.Next(ctx)
	require.ErrorIs(t, err, pubsub.ErrOutOfCapacity)
}

func TestStop(t *testing.T) {
	srv := pubsub.NewServer[int]()
	sub, err := srv.Subscribe(0)
	require.NoError(t, err)

	srv.Stop()
	srv.Stop()

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, pubsub.ErrServerStopped)

	_, err = srv.Subscribe(0)
	require.ErrorIs(t, err, pubsub.ErrServerStopped)

	// Publishing after Stop is a no-op.
	srv.Publish(1)
}

func TestConcurrentPublishOrder(t *testing.T) {
	defer leaktest.Check(t)()

	const n = 500
	srv := pubsub.NewServer[int]()
	defer srv.Stop()

	subs := make([]*pubsub.Subscription[int], 4)
	for i := range subs {
		sub, err := srv.Subscribe(0)
		require.NoError(t, err)
		subs[i] = sub
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *pubsub.Subscription[int]) {
			defer wg.Done()
			for want := 0; want < n; want++ {
				got, err := sub.Next(context.Background())
				if err != nil || got != want {
					t.Errorf("got %d (err %v), want %d", got, err, want)
					return
				}
			}
		}(sub)
	}

	for i := 0; i < n; i++ {
		srv.Publish(i)
	}
	wg.Wait()
}

func TestSubscriptionIDsUnique(t *testing.T) {
	srv := pubsub.NewServer[int]()
	defer srv.Stop()
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		sub, err := srv.Subscribe(0)
		require.NoError(t, err)
		require.False(t, seen[sub.ID()])
		seen[sub.ID()] = true
	}
}
