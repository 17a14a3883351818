package state

import (
	"fmt"
	"time"

	"github.com/raiich/httpconn/lib/task"
)

type State interface {
}

// CurrentState holds the current state and at most one timer bound to it.
// Set stops the timer, so a timeout armed in one state never fires in the next.
// CurrentState is not synchronized; use it from a single dispatcher.
type CurrentState[S State] struct {
	current S
	timer   task.Timer
}

func (m *CurrentState[S]) Get() S {
	return m.current
}

func (m *CurrentState[S]) Set(next S) {
	if m.timer != nil {
		_ = m.timer.Stop()
		m.timer = nil
	}
	m.current = next
}

func (m *CurrentState[S]) AfterFunc(dispatcher Dispatcher, d time.Duration, f func()) error {
	if m.timer != nil {
		return fmt.Errorf("timer already set")
	}
	m.timer = dispatcher.AfterFunc(d, func() {
		m.timer = nil
		f()
	})
	return nil
}

// StopTimer cancels the pending timer, if any.
func (m *CurrentState[S]) StopTimer() bool {
	if m.timer == nil {
		return false
	}
	stopped := m.timer.Stop()
	m.timer = nil
	return stopped
}

type Dispatcher interface {
	AfterFunc(duration time.Duration, f func()) task.Timer
}

// Name returns the String of s when available, else its type name.
func Name(s State) string {
	if s == nil {
		return "<nil>"
	}
	if str, ok := s.(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%T", s)
}
