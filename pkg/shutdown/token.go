// Package shutdown provides a cancellation flag driven by OS signals.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
)

// Token is a one-way cancellation flag. The zero value is ready to use.
type Token struct {
	cancelled atomic.Bool
}

// Cancel sets the flag.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// NotifyOnSignals cancels t when any of sigs arrives. The handler only sets
// the flag; the caller decides when to stop. The returned function removes
// the handler.
func NotifyOnSignals(t *Token, sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)
	go func() {
		select {
		case <-ch:
			t.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		select {
		case <-done:
		default:
			close(done)
		}
	}
}
