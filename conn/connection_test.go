package conn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wsmux/wsmux/internal/observability"
)

func newTestConnection(t *testing.T, transport *fakeTransport, collab Collaborator, opts Options) *Connection {
	t.Helper()
	c, err := New(Config{
		ID:           "test",
		Transport:    transport,
		Collaborator: collab,
		Options:      opts,
	})
	require.NoError(t, err)
	return c
}

// Scenario 1: happy dispatch.
func TestHappyDispatchInvokesMatchingSubscriptionOnce(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true}}
	collab := &fakeCollaborator{matches: channelMatcher}
	c := newTestConnection(t, transport, collab, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))

	var calls atomic.Int32
	var unhandled atomic.Int32
	c.OnEvent(func(ev Event) {
		if ev.Kind == EventUnhandledMessage {
			unhandled.Add(1)
		}
	})

	sub := NewSubscription("ticker", func(Frame) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, c.AddSubscription(sub))

	transport.deliver(`{"channel":"ticker","p":1}`)

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(0), unhandled.Load())
}

// Scenario 2: request/response correlation.
func TestSendAndWaitCorrelatesResponseAndRespectsContinuePolicy(t *testing.T) {
	for _, continueOnQuery := range []bool{false, true} {
		t.Run("", func(t *testing.T) {
			transport := &fakeTransport{connectResults: []bool{true}}
			collab := &fakeCollaborator{matches: channelMatcher}
			opts := DefaultOptions()
			opts.ContinueOnQueryResponse = continueOnQuery
			c := newTestConnection(t, transport, collab, opts)
			require.NoError(t, c.Connect(context.Background()))

			var subCalls atomic.Int32
			sub := NewSubscription("auth", func(Frame) error {
				subCalls.Add(1)
				return nil
			})
			require.NoError(t, c.AddSubscription(sub))

			waitDone := make(chan Frame, 1)
			go func() {
				frame, err := c.SendAndWait(context.Background(), `{"op":"auth"}`, time.Second, func(f Frame) bool {
					id, _ := f.Get("id")
					v, ok := id.(float64)
					return ok && v == 7
				})
				require.NoError(t, err)
				waitDone <- frame
			}()

			require.Eventually(t, func() bool { return len(transport.sentFrames()) == 1 }, time.Second, time.Millisecond)
			transport.deliver(`{"id":7,"ok":true,"channel":"auth"}`)

			select {
			case frame := <-waitDone:
				ok, _ := frame.Get("ok")
				require.Equal(t, true, ok)
			case <-time.After(time.Second):
				t.Fatal("send_and_wait did not resolve")
			}

			if continueOnQuery {
				require.Eventually(t, func() bool { return subCalls.Load() == 1 }, time.Second, time.Millisecond)
			} else {
				time.Sleep(20 * time.Millisecond)
				require.Equal(t, int32(0), subCalls.Load())
			}
		})
	}
}

// Scenario 3: pending timeout then sweep.
func TestSendAndWaitTimesOutAndSweepsOnNextFrame(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true}}
	collab := &fakeCollaborator{}
	c := newTestConnection(t, transport, collab, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.SendAndWait(context.Background(), `{"op":"noop"}`, 50*time.Millisecond, func(Frame) bool { return false })
	require.Error(t, err)

	transport.deliver(`{"channel":"ticker"}`)

	c.pending.mu.Lock()
	remaining := len(c.pending.entries)
	c.pending.mu.Unlock()
	require.Zero(t, remaining)
}

type warnRecorder struct{ warns []string }

func (w *warnRecorder) Debug(string, ...observability.Field)      {}
func (w *warnRecorder) Info(string, ...observability.Field)       {}
func (w *warnRecorder) Warn(msg string, _ ...observability.Field) { w.warns = append(w.warns, msg) }
func (w *warnRecorder) Error(string, ...observability.Field)      {}

// Scenario 6: slow handler warning. Dispatch is synchronous, so deliver
// returns only after the slow handler has finished.
func TestSlowHandlerLogsProcessingSlowWarning(t *testing.T) {
	rec := &warnRecorder{}
	observability.SetLogger(rec)
	defer observability.SetLogger(nil)

	transport := &fakeTransport{connectResults: []bool{true}}
	collab := &fakeCollaborator{matches: channelMatcher}
	c := newTestConnection(t, transport, collab, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan struct{})
	sub := NewSubscription("slow", func(Frame) error {
		time.Sleep(600 * time.Millisecond)
		close(done)
		return nil
	})
	require.NoError(t, c.AddSubscription(sub))

	start := time.Now()
	transport.deliver(`{"channel":"slow"}`)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 600*time.Millisecond)
	require.Contains(t, rec.warns, "message processing slow")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never completed")
	}
}

func TestCloseIsIdempotentAndEmitsClosedOnce(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true}}
	c := newTestConnection(t, transport, &fakeCollaborator{}, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))

	var closedCount atomic.Int32
	c.OnEvent(func(ev Event) {
		if ev.Kind == EventClosed {
			closedCount.Add(1)
		}
	})

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	require.Equal(t, int32(1), closedCount.Load())
	require.True(t, transport.disposed)
}

func TestCloseSubscriptionClosesConnectionWhenLastUserSubscriptionRemoved(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true}}
	c := newTestConnection(t, transport, &fakeCollaborator{}, DefaultOptions())
	require.NoError(t, c.Connect(context.Background()))

	sub := NewSubscription("only", nil)
	require.NoError(t, c.AddSubscription(sub))

	require.NoError(t, c.CloseSubscription(context.Background(), sub))

	require.True(t, transport.disposed)
	_, ok := c.GetSubscription(sub.ID)
	require.False(t, ok)
}

func TestAddSubscriptionRejectsDuplicateID(t *testing.T) {
	transport := &fakeTransport{connectResults: []bool{true}}
	c := newTestConnection(t, transport, &fakeCollaborator{}, DefaultOptions())

	sub := NewSubscription("ticker", nil)
	require.NoError(t, c.AddSubscription(sub))
	require.Error(t, c.AddSubscription(sub))
}
