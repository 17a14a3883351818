package nethttp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/log"
)

type closeReason struct {
	local bool
	err   error
}

// connBase is shared by the HTTP/1.1 and HTTP/2 connections. It owns the
// shutdown notification: the first Close of the underlying net.Conn reports
// shutdown exactly once, and never before the setup callback returned.
type connBase struct {
	id         uint64
	version    engine.Version
	address    string
	scheme     string
	authority  string
	logger     log.Logger
	settings   *settings
	bufSize    int
	onShutdown engine.ShutdownFunc
	userData   any

	self        engine.Connection
	ready       chan struct{}
	established atomic.Bool
	released    atomic.Bool
	reason      atomic.Pointer[closeReason]
	nextID      atomic.Uint64

	// closedCleanly is set when the peer ended the connection right after
	// a complete response.
	closedCleanly atomic.Bool
}

func (c *connBase) Version() engine.Version {
	return c.version
}

// setReason records why the connection is going away. The first reason wins.
func (c *connBase) setReason(local bool, err error) {
	c.reason.CompareAndSwap(nil, &closeReason{local: local, err: err})
}

// finishSetup unblocks the shutdown notification. established reports
// whether the connection was handed to the setup callback.
func (c *connBase) finishSetup(established bool) {
	c.established.Store(established)
	close(c.ready)
}

func (c *connBase) onConnClosed() {
	go func() {
		<-c.ready
		if !c.established.Load() {
			return
		}
		code, err := engine.CodeOK, error(nil)
		if r := c.reason.Load(); r != nil && !r.local && !c.closedCleanly.Load() {
			err = r.err
			if err == nil {
				err = io.EOF
			}
			code = codeOr(err, engine.CodeConnectionClosed)
		}
		c.logger.Debug("connection shut down", "conn", c.id, "addr", c.address, "code", code, "error", err)
		if c.onShutdown != nil {
			c.onShutdown(c.self, code, err, c.userData)
		}
	}()
}

// nextStreamID hands out 1, 2, 3... for step 1 and 1, 3, 5... for step 2.
func (c *connBase) nextStreamID(step uint64) uint64 {
	return c.nextID.Add(step) - step + 1
}

// closedError is reported to streams that never got a response because the
// connection went away.
func (c *connBase) closedError() (engine.ErrorCode, error) {
	r := c.reason.Load()
	if r == nil || r.local || r.err == nil {
		return engine.CodeConnectionClosed, engine.ErrNotOpen
	}
	return codeOr(r.err, engine.CodeConnectionClosed), r.err
}

func (c *connBase) newStream(opts *engine.RequestOptions, step uint64) (*stream, error) {
	if opts == nil {
		return nil, engine.NewError(engine.CodeInvalidArgument, errors.Newf("nil request options"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := newRequest(ctx, opts, c.scheme, c.authority)
	if err != nil {
		cancel()
		return nil, engine.NewError(engine.CodeInvalidArgument, err)
	}
	return &stream{
		id:        c.nextStreamID(step),
		conn:      c,
		opts:      *opts,
		req:       req,
		cancel:    cancel,
		bufSize:   c.bufSize,
		responded: make(chan struct{}),
	}, nil
}

// trackedConn calls onClose once, on the first Close, and records the first
// read error as the close reason of the owning connection.
type trackedConn struct {
	net.Conn
	owner *connBase
	once  sync.Once
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil {
		c.owner.setReason(false, err)
	}
	return n, err
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.owner.onConnClosed)
	return err
}
