package audit

import (
	"context"
	"sync"
	"time"

	"github.com/civitashq/civitas/pkg/observability"
)

const defaultQueueSize = 1024

// Inserter is the synchronous sink behind the async queue.
type Inserter interface {
	Insert(ctx context.Context, entry Entry) error
}

// AsyncLogger buffers entries in a bounded queue drained by one background
// goroutine. Record never blocks and never fails; when the queue is full the
// oldest entry is dropped and counted, so a stalled audit table degrades to
// lost history instead of a stalled API.
type AsyncLogger struct {
	sink      Inserter
	queue     chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAsyncLogger starts the drain goroutine.
func NewAsyncLogger(sink Inserter, queueSize int) *AsyncLogger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	l := &AsyncLogger{
		sink:  sink,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Record enqueues an entry, dropping the oldest queued entry on overflow.
func (l *AsyncLogger) Record(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.RequestID == "" {
		entry.RequestID = observability.GetRequestID(ctx)
	}

	select {
	case <-l.done:
		return
	default:
	}

	for {
		select {
		case l.queue <- entry:
			return
		default:
		}
		select {
		case <-l.queue:
			observability.ObserveAuditDrop()
		default:
		}
	}
}

func (l *AsyncLogger) drain() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.queue:
			l.write(entry)
		case <-l.done:
			for {
				select {
				case entry := <-l.queue:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *AsyncLogger) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.sink.Insert(ctx, entry); err != nil {
		observability.GetLogger(ctx).WithError(err).
			WithField("action", entry.Action).
			Warn("failed to persist audit entry")
	}
}

// Close flushes queued entries and stops the drain goroutine.
func (l *AsyncLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}
