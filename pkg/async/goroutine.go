package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, log, "materialization notify", func(ctx context.Context) error {
//	    sink.Notify(change)
//	    return nil
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, log *logrus.Logger, taskName string, fn func(context.Context) error) {
	if log == nil {
		log = logrus.New()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			// Log and move on. Background tasks are best-effort.
			log.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and timeout enforcement.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, log *logrus.Logger, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, log, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
