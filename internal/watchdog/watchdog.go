// Package watchdog enforces a hard per-iteration ceiling independently of
// the main control flow.
package watchdog

import (
	"sync"
	"time"
)

// Watchdog force-terminates a stuck environment when its ceiling elapses.
// Arm strictly precedes readiness probing; Disarm runs on every
// iteration-normal-exit path before the next iteration's watchdog starts.
type Watchdog struct {
	mu    sync.Mutex
	timer *time.Timer
	armed bool
	fired bool
}

func New() *Watchdog {
	return &Watchdog{}
}

// Arm starts the ceiling timer. onExpire runs at most once, from the timer
// goroutine, and is expected to destroy the environment.
func (w *Watchdog) Arm(ceiling time.Duration, onExpire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		return
	}
	w.armed = true
	w.fired = false
	w.timer = time.AfterFunc(ceiling, func() {
		w.mu.Lock()
		if !w.armed {
			// Disarmed between expiry and lock acquisition.
			w.mu.Unlock()
			return
		}
		w.fired = true
		w.armed = false
		w.mu.Unlock()
		onExpire()
	})
}

// Disarm cancels the timer. Disarming an already-fired or never-armed
// watchdog is a no-op.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.armed = false
}

// Fired reports whether the ceiling elapsed before Disarm.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
