package safe

import (
	"MessageBox/logger"
	"MessageBox/tools/errs"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that logs and swallows panics.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred at the top of long-lived goroutines.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[safe] panic recovered", zap.String("goroutine", name), zap.Error(errs.ErrPanic(r)))
	}
}
