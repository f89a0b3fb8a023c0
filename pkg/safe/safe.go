package safe

import (
	"log/slog"
	"runtime/debug"
)

// Run executes fn and swallows any panic, logging it with the stack. Every
// long-lived goroutine in this codebase goes through here.
func Run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered",
				slog.Any("recover", r),
				slog.String("component", "safe.Run"),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	fn()
}

// Go runs fn on a new goroutine with panic recovery, tagged with the
// component name for the log line.
func Go(component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered",
					slog.Any("recover", r),
					slog.String("component", component),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}
