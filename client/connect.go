package client

import (
	"context"
	"sync/atomic"

	"github.com/raiich/httpconn/client/internal"
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/state"
	"github.com/raiich/httpconn/lib/task"
)

// Connect starts a connection attempt and returns immediately. The result is
// delivered only through opts.OnConnectionSetup, from another goroutine, even
// when the options are invalid. Connect returns an error only when that
// callback cannot be called.
func Connect(eng engine.Engine, opts ConnectionOptions) error {
	if eng == nil {
		return errors.Newf("client: nil engine")
	}
	if opts.OnConnectionSetup == nil {
		return errors.Newf("client: OnConnectionSetup is required")
	}
	a := newAttempt(opts)
	engineOpts, err := opts.engineOptions()
	if err != nil {
		go onSetup(nil, engine.CodeInvalidArgument, err, a)
		return nil
	}
	a.armSetupTimeout()
	eng.Connect(engineOpts, onSetup, onShutdown, a)
	return nil
}

// ConnectContext waits for the attempt started by Connect. When ctx ends
// first, a connection that arrives later is released.
func ConnectContext(ctx context.Context, eng engine.Engine, opts ConnectionOptions) (*Connection, error) {
	type result struct {
		conn *Connection
		err  error
	}
	ch := make(chan result, 1)
	onConnectionSetup := opts.OnConnectionSetup
	opts.OnConnectionSetup = func(conn *Connection, err error) {
		if onConnectionSetup != nil {
			onConnectionSetup(conn, err)
		}
		ch <- result{conn: conn, err: err}
	}
	if err := Connect(eng, opts); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		select {
		case r := <-ch:
			return r.conn, r.err
		default:
		}
		go func() {
			if r := <-ch; r.conn != nil {
				log.Debug("releasing connection established after cancel", "conn", r.conn.ID())
				r.conn.Release()
			}
		}()
		return nil, context.Cause(ctx)
	}
}

// attempt is the user data of one engine.Connect call. Its token starts
// with the setup reference; a successful setup retains one more for shutdown.
type attempt struct {
	opts       ConnectionOptions
	token      *internal.Token
	conn       atomic.Pointer[Connection]
	dispatcher *task.MutexDispatcher
	state      state.LoggingCurrentState[attemptState]
}

func newAttempt(opts ConnectionOptions) *attempt {
	a := &attempt{
		opts:       opts,
		dispatcher: task.NewMutexDispatcher(),
	}
	a.token = internal.NewToken("attempt", 1, func() {
		a.conn.Store(nil)
	})
	a.state.WithAttrs("host", opts.HostName, "port", opts.Port)
	a.state.Set(attemptPending{})
	return a
}

type attemptState interface {
	setup(ok bool) (attemptState, bool)
}

type attemptPending struct{}

func (attemptPending) String() string { return "pending" }

func (attemptPending) setup(ok bool) (attemptState, bool) {
	if ok {
		return attemptEstablished{}, true
	}
	return attemptFailed{}, true
}

type attemptEstablished struct{}

func (attemptEstablished) String() string { return "established" }

func (attemptEstablished) setup(bool) (attemptState, bool) { return nil, false }

type attemptFailed struct{}

func (attemptFailed) String() string { return "failed" }

func (attemptFailed) setup(bool) (attemptState, bool) { return nil, false }

// attemptTimedOut reported a timeout; the engine result is discarded.
type attemptTimedOut struct{}

func (attemptTimedOut) String() string { return "timed-out" }

func (attemptTimedOut) setup(bool) (attemptState, bool) { return nil, false }

func (a *attempt) armSetupTimeout() {
	if a.opts.SetupTimeout <= 0 {
		return
	}
	a.dispatcher.InvokeFunc(func() {
		log.OnError(a.state.AfterFunc(a.dispatcher, a.opts.SetupTimeout, a.onSetupTimeout), "failed to arm setup timeout")
	})
}

// onSetupTimeout runs inside the dispatcher; the setup transition stops its timer.
func (a *attempt) onSetupTimeout() {
	if _, ok := a.state.Get().(attemptPending); !ok {
		return
	}
	a.state.Set(attemptTimedOut{})
	err := newError(KindConnectionSetup, engine.CodeTimeout, errors.Newf("connection setup did not finish within %v", a.opts.SetupTimeout))
	go func() {
		defer a.release("timeout")
		log.Debug("connection setup timed out", "host", a.opts.HostName, "port", a.opts.Port)
		a.opts.OnConnectionSetup(nil, err)
	}()
}

func (a *attempt) timedOut() bool {
	return task.Invoke(a.dispatcher, func() bool {
		_, ok := a.state.Get().(attemptTimedOut)
		return ok
	})
}

// transit moves the attempt out of pending. It reports false when setup was
// already reported.
func (a *attempt) transit(ok bool) bool {
	return task.Invoke(a.dispatcher, func() bool {
		next, valid := a.state.Get().setup(ok)
		if valid {
			a.state.Set(next)
		}
		return valid
	})
}

func (a *attempt) release(path string) {
	if err := a.token.Release(); err != nil {
		log.Warn("unbalanced attempt release", "path", path, "error", err)
	}
}

func onSetup(ec engine.Connection, code engine.ErrorCode, err error, userData any) {
	a := userData.(*attempt)
	ok := code == engine.CodeOK && ec != nil
	if !a.transit(ok) {
		if a.timedOut() {
			log.Debug("setup callback after timeout ignored", "host", a.opts.HostName, "code", code)
		} else {
			log.Warn("duplicate setup callback ignored", "host", a.opts.HostName, "code", code)
		}
		if ec != nil && ec != connHandle(a.conn.Load()) {
			ec.Release()
		}
		return
	}
	defer a.release("setup")

	if !ok {
		if ec != nil {
			ec.Release()
		}
		if code == engine.CodeOK {
			code, err = engine.CodeUnknown, errors.Newf("engine reported success without a connection")
		}
		log.Debug("connection setup failed", "host", a.opts.HostName, "port", a.opts.Port, "code", code, "error", err)
		a.opts.OnConnectionSetup(nil, newError(KindConnectionSetup, code, err))
		return
	}

	// the shutdown reference must exist before anyone can observe the connection
	if err := a.token.Retain(); err != nil {
		log.Error("failed to retain attempt for shutdown", "error", err)
	}
	conn := newConnection(a.opts, ec)
	a.conn.Store(conn)
	log.Debug("connection established", "conn", conn.ID(), "host", conn.HostName(), "port", conn.Port(), "version", conn.Version())
	a.opts.OnConnectionSetup(conn, nil)
}

func onShutdown(ec engine.Connection, code engine.ErrorCode, err error, userData any) {
	a := userData.(*attempt)
	conn := a.conn.Load()
	if conn == nil {
		if !a.timedOut() {
			log.Warn("shutdown callback without an established connection", "host", a.opts.HostName, "code", code)
		}
		return
	}
	defer a.release("shutdown")
	conn.onShutdown(code, err)
}

func connHandle(c *Connection) engine.Connection {
	if c == nil {
		return nil
	}
	return c.handle
}
