package client

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/raiich/httpconn/client/internal"
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/state"
	"github.com/raiich/httpconn/lib/task"
)

// Connection is an established connection. It is only created by Connect
// and handed to OnConnectionSetup.
//
// The engine handle is released once both the caller (Release, or the
// finalizer) and the shutdown callback are done with it. The finalizer can
// only run after shutdown, while the engine holds the connection reachable.
type Connection struct {
	id           uuid.UUID
	hostName     string
	port         uint16
	handle       engine.Connection
	token        *internal.Token
	released     atomic.Bool
	onShutdownFn func(conn *Connection, err error)

	dispatcher *task.MutexDispatcher
	state      state.LoggingCurrentState[connectionState]
}

func newConnection(opts ConnectionOptions, handle engine.Connection) *Connection {
	c := &Connection{
		id:           uuid.New(),
		hostName:     opts.HostName,
		port:         opts.Port,
		handle:       handle,
		onShutdownFn: opts.OnConnectionShutdown,
		dispatcher:   task.NewMutexDispatcher(),
	}
	id := c.id
	c.token = internal.NewToken("connection", 2, func() {
		log.Debug("releasing connection handle", "conn", id)
		handle.Release()
	})
	c.state.WithAttrs("conn", c.id)
	c.state.Set(connectionOpen{})
	runtime.SetFinalizer(c, (*Connection).Release)
	return c
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) HostName() string {
	return c.hostName
}

func (c *Connection) Port() uint16 {
	return c.port
}

func (c *Connection) Version() engine.Version {
	return c.handle.Version()
}

// IsOpen asks the engine. It is false after Release and may be either
// between Close and the shutdown callback.
func (c *Connection) IsOpen() bool {
	if c.released.Load() {
		return false
	}
	return c.handle.IsOpen()
}

// Close asks the engine to close the connection. Only the first call has an
// effect; OnConnectionShutdown reports the end asynchronously.
func (c *Connection) Close() {
	if task.Invoke(c.dispatcher, func() bool {
		next, requestClose := c.state.Get().close()
		if requestClose {
			c.state.Set(next)
		}
		return requestClose
	}) {
		c.handle.Close()
	}
}

// NewStream submits a request and returns without waiting for the network.
func (c *Connection) NewStream(opts RequestOptions) (*Stream, error) {
	if err := opts.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid request options")
	}
	if c.released.Load() {
		return nil, ErrReleased
	}
	s := newStream(c, opts)
	es, err := c.handle.MakeRequest(s.engineOptions())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to make request")
	}
	s.bind(es)
	return s, nil
}

// Release closes the connection if it is still open and drops the caller's
// reference. Calls after the first have no effect.
func (c *Connection) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(c, nil)
	c.Close()
	if err := c.token.Release(); err != nil {
		log.Warn("unbalanced connection release", "conn", c.id, "error", err)
	}
}

func (c *Connection) onShutdown(code engine.ErrorCode, err error) {
	first := task.Invoke(c.dispatcher, func() bool {
		next, first := c.state.Get().shutdown()
		if first {
			c.state.Set(next)
		}
		return first
	})
	if !first {
		log.Warn("duplicate shutdown ignored", "conn", c.id, "code", code)
		return
	}
	shutdownErr := newError(KindConnectionShutdown, code, err)
	log.Debug("connection shut down", "conn", c.id, "error", shutdownErr)
	if c.onShutdownFn != nil {
		c.onShutdownFn(c, shutdownErr)
	}
	if err := c.token.Release(); err != nil {
		log.Warn("unbalanced connection release", "conn", c.id, "error", err)
	}
}

// connectionState returns the next state and whether the event is the first
// of its kind.
type connectionState interface {
	close() (connectionState, bool)
	shutdown() (connectionState, bool)
}

type connectionOpen struct{}

func (connectionOpen) String() string { return "open" }

func (connectionOpen) close() (connectionState, bool)    { return connectionClosing{}, true }
func (connectionOpen) shutdown() (connectionState, bool) { return connectionClosed{}, true }

type connectionClosing struct{}

func (connectionClosing) String() string { return "closing" }

func (s connectionClosing) close() (connectionState, bool)  { return s, false }
func (connectionClosing) shutdown() (connectionState, bool) { return connectionClosed{}, true }

type connectionClosed struct{}

func (connectionClosed) String() string { return "closed" }

func (s connectionClosed) close() (connectionState, bool)    { return s, false }
func (s connectionClosed) shutdown() (connectionState, bool) { return s, false }
