package conn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type req struct{ Channel string }

// Scenario 4: outage then recovery with re-authentication and batched
// resubscription of request-bound subscriptions.
func TestOutageRecoversWithReauthAndParallelResubscribe(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true, false, true}}

	var authCalls atomic.Int32
	var subscribeCalls atomic.Int32
	collab := &fakeCollaborator{
		authenticate: func(context.Context, *Connection) (bool, error) {
			authCalls.Add(1)
			return true, nil
		},
		subscribeAndWait: func(context.Context, *Connection, *Subscription) (bool, error) {
			subscribeCalls.Add(1)
			return true, nil
		},
	}

	opts := DefaultOptions()
	opts.ReconnectInterval = 5 * time.Millisecond
	opts.MaxConcurrentResubscriptions = 4
	c := newTestConnection(t, transport, collab, opts)
	require.NoError(t, c.Connect(context.Background()))
	c.SetAuthenticated(true)

	require.NoError(t, c.AddSubscription(NewRequestSubscription(req{Channel: "trades"}, nil)))
	require.NoError(t, c.AddSubscription(NewRequestSubscription(req{Channel: "quotes"}, nil)))

	var lostCount, restoredCount atomic.Int32
	restoredDone := make(chan struct{})
	c.OnEvent(func(ev Event) {
		switch ev.Kind {
		case EventConnectionLost:
			lostCount.Add(1)
		case EventConnectionRestored:
			restoredCount.Add(1)
			close(restoredDone)
		}
	})

	transport.simulateRemoteClose()

	select {
	case <-restoredDone:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never restored")
	}

	require.Equal(t, int32(1), lostCount.Load())
	require.Equal(t, int32(1), restoredCount.Load())
	require.Equal(t, int32(1), authCalls.Load())
	require.Equal(t, int32(2), subscribeCalls.Load())
	require.True(t, c.IsConnected())
}

// Scenario 5: retry cap exhaustion tears the connection down terminally.
func TestRetryCapExhaustionClosesConnectionPermanently(t *testing.T) {
	transport := &fakeTransport{
		connectResults: []bool{true, false, false, false},
	}

	opts := DefaultOptions()
	opts.ReconnectInterval = 5 * time.Millisecond
	maxTries := 3
	opts.MaxReconnectTries = &maxTries

	var removed atomic.Bool
	c, err := New(Config{
		ID:        "capped",
		Transport: transport,
		Options:   opts,
		OnRemove:  func() { removed.Store(true) },
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	var closedCount, connectionClosedCount atomic.Int32
	done := make(chan struct{})
	c.OnEvent(func(ev Event) {
		switch ev.Kind {
		case EventClosed:
			closedCount.Add(1)
			close(done)
		case EventConnectionClosed:
			connectionClosedCount.Add(1)
		}
	})

	transport.simulateRemoteClose()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reached terminal close")
	}

	require.Equal(t, int32(1), closedCount.Load())
	require.Equal(t, int32(1), connectionClosedCount.Load())
	require.True(t, removed.Load())
	require.False(t, c.IsConnected())
}

func TestIdentifierOnlySubscriptionsAreNotResentOnReconnect(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true, true}}

	var subscribeCalls atomic.Int32
	collab := &fakeCollaborator{
		subscribeAndWait: func(context.Context, *Connection, *Subscription) (bool, error) {
			subscribeCalls.Add(1)
			return true, nil
		},
	}

	opts := DefaultOptions()
	opts.ReconnectInterval = 5 * time.Millisecond
	c := newTestConnection(t, transport, collab, opts)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.AddSubscription(NewSubscription("ticker", nil)))

	restored := make(chan struct{})
	c.OnEvent(func(ev Event) {
		if ev.Kind == EventConnectionRestored || ev.Kind == EventClosed {
			select {
			case <-restored:
			default:
				close(restored)
			}
		}
	})

	transport.simulateRemoteClose()

	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), subscribeCalls.Load())
}
