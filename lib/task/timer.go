package task

import (
	"sync/atomic"
	"time"
)

type Timer interface {
	Stop() bool
}

// AfterFunc runs f in its own goroutine after d unless the returned Timer is
// stopped first. Unlike time.Timer.Stop, Stop reports false once f has started.
func AfterFunc(d time.Duration, f func()) Timer {
	timer := &taskTimer{}
	timer.timer = time.AfterFunc(d, func() {
		timer.tryFire(f)
	})
	return timer
}

type taskTimer struct {
	finished atomic.Bool
	timer    *time.Timer
}

// tryFire executes Task if taskTimer.Stop is not called.
// If taskTimer.Stop is called immediately before time.AfterFunc is fired, Task will not be executed.
func (t *taskTimer) tryFire(task Task) {
	// finished == false => timer fire is valid => callable
	if t.finished.CompareAndSwap(false, true) {
		// `finished = true` is set before calling `f()`
		// so that `timer.Stop()` called inside `f()` returns false.
		task.Exec()
	}
}

func (t *taskTimer) Stop() bool {
	if t.finished.CompareAndSwap(false, true) {
		_ = t.timer.Stop()
		return true
	}
	return false
}
