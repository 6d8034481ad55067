package wstransport

import (
	"context"
	"sync"

	"github.com/wsmux/wsmux/errs"
)

// sendQueue is the outbound half of Conn.Send: a bounded queue of raw frame
// writes drained by a fixed number of workers, so one slow or stalled
// socket write can never block a caller's Send. A saturated queue drops the
// newest frame rather than blocking, matching the best-effort contract
// Transport.Send documents.
type sendQueue struct {
	write func(ctx context.Context, data string) error

	jobs chan string
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newSendQueue(workers, depth int, write func(ctx context.Context, data string) error) *sendQueue {
	if workers <= 0 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	q := &sendQueue{
		write: write,
		jobs:  make(chan string, depth),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

// enqueue schedules a frame for delivery. The returned error is for the
// caller to log, not to surface as a Send failure: a closed or saturated
// queue means the frame was dropped, which Send treats as best-effort.
func (q *sendQueue) enqueue(data string) error {
	select {
	case <-q.done:
		return errs.Unavailable("", "send queue closed")
	default:
	}
	select {
	case q.jobs <- data:
		return nil
	default:
		return errs.New("", errs.CodeUnavailable, errs.WithMessage("send queue saturated, frame dropped"))
	}
}

func (q *sendQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case data := <-q.jobs:
			_ = q.write(context.Background(), data)
		}
	}
}

// close stops accepting new frames and waits for in-flight writes to drain.
func (q *sendQueue) close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}
