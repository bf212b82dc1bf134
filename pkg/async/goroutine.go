// Package async provides safe goroutine execution for fire-and-forget work
// such as audit logging and notification delivery.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/civitashq/civitas/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a per-task timeout.
// Errors and panics are logged, never propagated; callers that need the
// result should not use this.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", fmt.Sprintf("%v", r)).
					WithField("stack", string(debug.Stack())).
					Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is SafeGo for functions that cannot fail.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
