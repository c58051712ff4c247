package engine

import (
	"log/slog"
	"runtime/debug"
)

// GoSafe runs fn in a goroutine and recovers from panics, logging the
// panic and stack trace instead of crashing the host process. The storage
// engine must never terminate the process it is embedded in.
func GoSafe(logger *slog.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					logger = slog.Default()
				}
				logger.Error("panic recovered in background task",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
