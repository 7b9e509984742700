package common

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScanTimeout is the cancellation cause set by a Watchdog that fired.
var ErrScanTimeout = errors.New("scan timed out")

// Watchdog cancels a context when no activity is recorded within the timeout.
type Watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
	mu      sync.Mutex
	fired   bool
}

// NewWatchdog derives a context from parent that is cancelled with
// ErrScanTimeout once timeout passes without a Kick.
// If timeout is <= 0, the watchdog is inert and never times out.
func NewWatchdog(parent context.Context, timeout time.Duration) (*Watchdog, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &Watchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, w.fire)
	}
	return w, ctx
}

// Kick resets the timeout.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil || w.fired {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop releases the watchdog and its context. It is safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.cancel(context.Canceled)
}

// Fired reports whether the timeout elapsed.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	w.fired = true
	w.mu.Unlock()
	w.cancel(ErrScanTimeout)
}
