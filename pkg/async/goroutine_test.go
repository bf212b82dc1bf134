package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("SafeGo did not execute function")
	}
}

func TestSafeGo_ErrorDoesNotCrash(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return errors.New("boom")
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("SafeGo did not execute function despite error")
	}
}

func TestSafeGo_PanicRecovered(t *testing.T) {
	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		panic("boom")
	})

	// If recovery failed the test binary would crash here.
	time.Sleep(100 * time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	timedOut := atomic.Bool{}

	SafeGo(context.Background(), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})

	time.Sleep(200 * time.Millisecond)

	if !timedOut.Load() {
		t.Error("task context was not cancelled at timeout")
	}
}

func TestSafeGo_SurvivesCallerCancellation(t *testing.T) {
	executed := atomic.Bool{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	SafeGo(ctx, time.Second, "test task", func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		executed.Store(true)
		return nil
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("background task should outlive caller cancellation")
	}
}

func TestSafeGoNoError(t *testing.T) {
	executed := atomic.Bool{}

	SafeGoNoError(context.Background(), time.Second, "test task", func(ctx context.Context) {
		executed.Store(true)
	})

	time.Sleep(100 * time.Millisecond)

	if !executed.Load() {
		t.Error("SafeGoNoError did not execute function")
	}
}
