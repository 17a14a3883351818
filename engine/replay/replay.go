// Package replay is an engine that answers every request with a recorded
// session instead of talking to the network.
package replay

import (
	"sync"
	"sync/atomic"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/record"
)

var ErrNoSession = errors.Newf("replay: no session to play")

type Engine struct {
	settings *settings

	mu    sync.Mutex
	conns []*Connection
}

var _ engine.Engine = (*Engine)(nil)

func New(opts ...Option) *Engine {
	return &Engine{
		settings: newSettings(opts...),
	}
}

func (e *Engine) Connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	if err := opts.Validate(); err != nil {
		go onSetup(nil, engine.CodeInvalidArgument, err, userData)
		return
	}
	go func() {
		if e.settings.setupCode != engine.CodeOK {
			onSetup(nil, e.settings.setupCode, e.settings.setupErr, userData)
			return
		}
		c := &Connection{
			settings:   e.settings,
			onShutdown: onShutdown,
			userData:   userData,
			ready:      make(chan struct{}),
			done:       make(chan struct{}),
		}
		e.mu.Lock()
		e.conns = append(e.conns, c)
		e.mu.Unlock()
		onSetup(c, engine.CodeOK, nil, userData)
		close(c.ready)
	}()
}

// Connections returns the connections set up so far.
func (e *Engine) Connections() []*Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Connection(nil), e.conns...)
}

type Connection struct {
	settings   *settings
	onShutdown engine.ShutdownFunc
	userData   any
	ready      chan struct{}
	released   atomic.Bool
	releases   atomic.Int32

	mu          sync.Mutex
	closed      bool
	done        chan struct{}
	nextID      uint64
	nextSession int
	streams     sync.WaitGroup
}

var _ engine.Connection = (*Connection)(nil)

func (c *Connection) IsOpen() bool {
	if c.released.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Connection) Close() {
	c.shutdown(engine.CodeOK, nil)
}

// Shutdown simulates the peer going away with code.
func (c *Connection) Shutdown(code engine.ErrorCode, err error) {
	c.shutdown(code, err)
}

// shutdown completes the remaining streams, then reports shutdown once the
// setup callback returned.
func (c *Connection) shutdown(code engine.ErrorCode, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	go func() {
		<-c.ready
		c.streams.Wait()
		if c.onShutdown != nil {
			c.onShutdown(c, code, err, c.userData)
		}
	}()
}

func (c *Connection) Release() {
	c.releases.Add(1)
	if c.released.CompareAndSwap(false, true) {
		c.Close()
	}
}

// Releases counts Release calls, including repeated ones.
func (c *Connection) Releases() int {
	return int(c.releases.Load())
}

func (c *Connection) Version() engine.Version {
	return c.settings.version
}

func (c *Connection) MakeRequest(opts *engine.RequestOptions) (engine.Stream, error) {
	if c.released.Load() {
		return nil, engine.ErrReleased
	}
	if opts == nil {
		return nil, engine.NewError(engine.CodeInvalidArgument, errors.Newf("nil request options"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, engine.ErrNotOpen
	}
	sessions := c.settings.sessions
	if len(sessions) == 0 {
		return nil, ErrNoSession
	}
	session := sessions[c.nextSession%len(sessions)]
	c.nextSession++
	c.nextID++

	s := &stream{
		id:       c.nextID,
		conn:     c,
		opts:     *opts,
		canceled: make(chan struct{}),
	}
	c.streams.Add(1)
	go s.play(session)
	return s, nil
}

type stream struct {
	id         uint64
	conn       *Connection
	opts       engine.RequestOptions
	status     atomic.Int64
	completed  atomic.Bool
	cancelOnce sync.Once
	canceled   chan struct{}
}

func (s *stream) ID() uint64 {
	return s.id
}

func (s *stream) ResponseStatus() int {
	return int(s.status.Load())
}

func (s *stream) Release() {
	if !s.completed.Load() {
		s.cancelOnce.Do(func() {
			close(s.canceled)
		})
	}
}

var errAborted = errors.Newf("replay: aborted by callback")

func (s *stream) play(session *record.Session) {
	defer s.conn.streams.Done()
	chunkSize := s.conn.settings.bodyChunkSize

	for _, e := range session.Events {
		select {
		case <-s.conn.done:
			s.complete(engine.CodeConnectionClosed, engine.ErrNotOpen)
			return
		case <-s.canceled:
			s.complete(engine.CodeCanceled, errors.Newf("replay: stream released"))
			return
		default:
		}

		var st engine.Status
		switch e.Kind {
		case record.EventStatus:
			s.status.Store(int64(e.Status))
		case record.EventHeaders:
			if f := s.opts.OnResponseHeaders; f != nil {
				st = f(s, e.Block, e.Headers, s.opts.UserData)
			}
		case record.EventBlockDone:
			if f := s.opts.OnResponseHeaderBlockDone; f != nil {
				st = f(s, e.Block, s.opts.UserData)
			}
		case record.EventBody:
			st = s.deliverBody(e.Data, chunkSize)
		case record.EventComplete:
			var err error
			if e.Message != "" {
				err = errors.Newf("%s", e.Message)
			}
			s.complete(e.Code, err)
			return
		}
		if st != engine.StatusContinue {
			s.complete(engine.CodeCallbackAbort, errAborted)
			return
		}
	}
	s.complete(engine.CodeOK, nil)
}

// deliverBody hands data out through one reused buffer, overwritten after
// each callback.
func (s *stream) deliverBody(data []byte, chunkSize int) engine.Status {
	f := s.opts.OnResponseBody
	if f == nil {
		return engine.StatusContinue
	}
	if chunkSize <= 0 || chunkSize > len(data) {
		chunkSize = len(data)
	}
	buf := make([]byte, chunkSize)
	for len(data) > 0 {
		n := copy(buf, data)
		data = data[n:]
		st := f(s, buf[:n], s.opts.UserData)
		for i := range buf {
			buf[i] = scribble
		}
		if st != engine.StatusContinue {
			return st
		}
	}
	return engine.StatusContinue
}

const scribble = 0xA5

func (s *stream) complete(code engine.ErrorCode, err error) {
	if !s.completed.CompareAndSwap(false, true) {
		return
	}
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(s, code, err, s.opts.UserData)
	}
}
