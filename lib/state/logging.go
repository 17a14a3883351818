package state

import (
	"time"

	"github.com/raiich/httpconn/internal/log"
)

type LoggingCurrentState[S State] struct {
	base  CurrentState[S]
	attrs []any
}

// WithAttrs sets key-value pairs added to every transition log.
func (m *LoggingCurrentState[S]) WithAttrs(args ...any) {
	m.attrs = args
}

func (m *LoggingCurrentState[S]) Get() S {
	return m.base.Get()
}

func (m *LoggingCurrentState[S]) Set(next S) {
	from := m.base.Get()
	log.Debug("state transition", append([]any{"from", Name(from), "to", Name(next)}, m.attrs...)...)
	m.base.Set(next)
}

func (m *LoggingCurrentState[S]) AfterFunc(dispatcher Dispatcher, d time.Duration, f func()) error {
	log.Debug("state AfterFunc", append([]any{"duration", d, "state", Name(m.base.Get())}, m.attrs...)...)
	return m.base.AfterFunc(dispatcher, d, f)
}

func (m *LoggingCurrentState[S]) StopTimer() bool {
	return m.base.StopTimer()
}
