package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack. Call it
// directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "snapshot job")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}

// RecoverPanicAsError converts a recovered value into an error and logs it.
// Use it from a deferred closure that assigns a named error result:
//
//	defer func() {
//		if err2 := observability.RecoverPanicAsError(logger, "import", recover()); err2 != nil {
//			err = err2
//		}
//	}()
func RecoverPanicAsError(logger *Logger, where string, r interface{}) error {
	if r == nil {
		return nil
	}
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
	return fmt.Errorf("panic in %s: %v", where, r)
}
