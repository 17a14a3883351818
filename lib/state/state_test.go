package state

import (
	"testing"
	"time"

	"github.com/raiich/httpconn/lib/task"
)

type phase interface {
	next() phase
}

type opening struct{}

func (opening) next() phase { return open{} }

type open struct{}

func (open) next() phase { return closed{} }
func (open) String() string {
	return "open"
}

type closed struct{}

func (closed) next() phase { return closed{} }

func TestLoggingCurrentState(t *testing.T) {
	var s LoggingCurrentState[phase]
	s.WithAttrs("conn", "test")
	s.Set(opening{})
	s.Set(s.Get().next())
	if _, ok := s.Get().(open); !ok {
		t.Fatalf("unexpected state: %s", Name(s.Get()))
	}
	if Name(s.Get()) != "open" {
		t.Errorf("Name should use String: %s", Name(s.Get()))
	}
	if Name(closed{}) != "state.closed" {
		t.Errorf("Name should fall back to type name: %s", Name(closed{}))
	}
}

func TestTimerIsStoppedOnTransition(t *testing.T) {
	d := task.NewMutexDispatcher()
	var s CurrentState[phase]
	fired := make(chan struct{}, 1)

	d.InvokeFunc(func() {
		s.Set(open{})
		if err := s.AfterFunc(d, 20*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
			t.Fatalf("AfterFunc failed: %v", err)
		}
		if err := s.AfterFunc(d, time.Millisecond, func() {}); err == nil {
			t.Errorf("second AfterFunc should fail while a timer is set")
		}
		s.Set(closed{})
	})

	select {
	case <-fired:
		t.Fatalf("timer of previous state fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTimerFires(t *testing.T) {
	d := task.NewMutexDispatcher()
	var s CurrentState[phase]
	fired := make(chan phase, 1)
	d.InvokeFunc(func() {
		s.Set(open{})
		_ = s.AfterFunc(d, time.Millisecond, func() {
			s.Set(s.Get().next())
			fired <- s.Get()
		})
	})
	select {
	case p := <-fired:
		if _, ok := p.(closed); !ok {
			t.Errorf("unexpected state after timer: %s", Name(p))
		}
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
	d.InvokeFunc(func() {
		if s.StopTimer() {
			t.Errorf("no timer should remain")
		}
	})
}
