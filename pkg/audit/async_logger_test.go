package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureInserter struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	slow    time.Duration
}

func (c *captureInserter) Insert(ctx context.Context, entry Entry) error {
	if c.slow > 0 {
		time.Sleep(c.slow)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureInserter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestAsyncLogger_RecordAndFlush(t *testing.T) {
	sink := &captureInserter{}
	logger := NewAsyncLogger(sink, 16)

	for i := 0; i < 5; i++ {
		logger.Record(context.Background(), Entry{Action: ActionCreate, Entity: "task"})
	}
	logger.Close()

	assert.Equal(t, 5, sink.count())
}

func TestAsyncLogger_RecordNeverBlocks(t *testing.T) {
	sink := &captureInserter{slow: 50 * time.Millisecond}
	logger := NewAsyncLogger(sink, 2)
	defer logger.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			logger.Record(context.Background(), Entry{Action: ActionCreate, Entity: "task"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestAsyncLogger_SinkErrorIsSwallowed(t *testing.T) {
	sink := &captureInserter{err: errors.New("db down")}
	logger := NewAsyncLogger(sink, 4)

	logger.Record(context.Background(), Entry{Action: ActionCreate, Entity: "task"})
	logger.Close()
	// No panic, no error surfaced to the caller.
}

func TestAsyncLogger_StampsCreatedAt(t *testing.T) {
	sink := &captureInserter{}
	logger := NewAsyncLogger(sink, 4)

	logger.Record(context.Background(), Entry{Action: ActionCreate, Entity: "task"})
	logger.Close()

	require.Equal(t, 1, sink.count())
	assert.False(t, sink.entries[0].CreatedAt.IsZero())
}

func TestAsyncLogger_RecordAfterClose(t *testing.T) {
	sink := &captureInserter{}
	logger := NewAsyncLogger(sink, 4)
	logger.Close()

	logger.Record(context.Background(), Entry{Action: ActionCreate, Entity: "task"})
	assert.Equal(t, 0, sink.count())
}
