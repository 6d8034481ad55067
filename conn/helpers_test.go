package conn

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory Transport double driven entirely by the
// test: Connect results are supplied up front, and closes/messages are
// injected explicitly rather than arriving from a real socket.
type fakeTransport struct {
	mu             sync.Mutex
	open           bool
	reconnecting   bool
	connectResults []bool
	connectErrs    []error
	connectCalls   int
	sent           []string
	disposed       bool

	onOpen    func()
	onMessage func(string)
	onClose   func()
	onError   func(error)
}

func (t *fakeTransport) Connect(context.Context) (bool, error) {
	t.mu.Lock()
	idx := t.connectCalls
	t.connectCalls++
	var ok bool
	var err error
	if idx < len(t.connectResults) {
		ok = t.connectResults[idx]
	}
	if idx < len(t.connectErrs) {
		err = t.connectErrs[idx]
	}
	if err == nil && ok {
		t.open = true
	}
	onOpen := t.onOpen
	t.mu.Unlock()

	if err == nil && ok && onOpen != nil {
		onOpen()
	}
	return ok, err
}

func (t *fakeTransport) Close(context.Context) error {
	t.mu.Lock()
	wasOpen := t.open
	t.open = false
	onClose := t.onClose
	t.mu.Unlock()

	if wasOpen && onClose != nil {
		onClose()
	}
	return nil
}

func (t *fakeTransport) Reset() {}

func (t *fakeTransport) Send(data string) {
	t.mu.Lock()
	t.sent = append(t.sent, data)
	t.mu.Unlock()
}

func (t *fakeTransport) Dispose() {
	t.mu.Lock()
	t.disposed = true
	t.mu.Unlock()
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) IsReconnecting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconnecting
}

func (t *fakeTransport) SetReconnecting(v bool) {
	t.mu.Lock()
	t.reconnecting = v
	t.mu.Unlock()
}

func (t *fakeTransport) OnOpen(f func())          { t.onOpen = f }
func (t *fakeTransport) OnMessage(f func(string)) { t.onMessage = f }
func (t *fakeTransport) OnClose(f func())         { t.onClose = f }
func (t *fakeTransport) OnError(f func(error))    { t.onError = f }

func (t *fakeTransport) deliver(raw string) {
	t.mu.Lock()
	onMessage := t.onMessage
	t.mu.Unlock()
	if onMessage != nil {
		onMessage(raw)
	}
}

// simulateRemoteClose drops the current session as though the remote end
// closed it, firing on_close exactly as a real transport would.
func (t *fakeTransport) simulateRemoteClose() {
	t.mu.Lock()
	t.open = false
	onClose := t.onClose
	t.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (t *fakeTransport) sentFrames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeCollaborator is a Collaborator double with overridable hooks; unset
// hooks fall back to harmless defaults.
type fakeCollaborator struct {
	authenticate     func(ctx context.Context, c *Connection) (bool, error)
	subscribeAndWait func(ctx context.Context, c *Connection, sub *Subscription) (bool, error)
	unsubscribe      func(ctx context.Context, c *Connection, sub *Subscription) error
	matches          func(c *Connection, frame Frame, target any) bool
	transform        func(frame Frame) Frame
}

func (f *fakeCollaborator) Authenticate(ctx context.Context, c *Connection) (bool, error) {
	if f.authenticate != nil {
		return f.authenticate(ctx, c)
	}
	return true, nil
}

func (f *fakeCollaborator) SubscribeAndWait(ctx context.Context, c *Connection, sub *Subscription) (bool, error) {
	if f.subscribeAndWait != nil {
		return f.subscribeAndWait(ctx, c, sub)
	}
	return true, nil
}

func (f *fakeCollaborator) Unsubscribe(ctx context.Context, c *Connection, sub *Subscription) error {
	if f.unsubscribe != nil {
		return f.unsubscribe(ctx, c, sub)
	}
	return nil
}

func (f *fakeCollaborator) Matches(c *Connection, frame Frame, target any) bool {
	if f.matches != nil {
		return f.matches(c, frame, target)
	}
	return false
}

func (f *fakeCollaborator) Transform(frame Frame) Frame {
	if f.transform != nil {
		return f.transform(frame)
	}
	return frame
}

func channelMatcher(c *Connection, frame Frame, target any) bool {
	channel, _ := frame.String("channel")
	id, ok := target.(string)
	return ok && channel == id
}
