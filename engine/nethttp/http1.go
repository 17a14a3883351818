package nethttp

import (
	"bufio"
	"context"
	"net/http"
	"sync"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/task"
)

var errServerClosed = engine.NewError(engine.CodeConnectionClosed, errors.Newf("server closed the connection"))

// http1Conn pipelines nothing: the writer sends the next request only after
// the reader consumed the previous response. All completions except for
// requests that never reached the wire happen on the reader goroutine.
type http1Conn struct {
	*connBase
	conn     *trackedConn
	br       *bufio.Reader
	queue    *task.Queue[*stream]
	inflight chan *stream
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ engine.Connection = (*http1Conn)(nil)

func newHTTP1Conn(base *connBase, conn *trackedConn) *http1Conn {
	c := &http1Conn{
		connBase: base,
		conn:     conn,
		br:       bufio.NewReader(conn),
		queue:    task.NewQueue[*stream](base.settings.requestQueueSize),
		inflight: make(chan *stream, 1),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *http1Conn) IsOpen() bool {
	if c.released.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *http1Conn) Close() {
	c.setReason(true, nil)
	c.abort()
}

func (c *http1Conn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.Close()
	}
}

func (c *http1Conn) MakeRequest(opts *engine.RequestOptions) (engine.Stream, error) {
	if c.released.Load() {
		return nil, engine.ErrReleased
	}
	s, err := c.newStream(opts, 1)
	if err != nil {
		return nil, err
	}
	cancel := s.cancel
	s.cancel = func() {
		cancel()
		// a response in progress cannot be skipped without closing the connection
		c.fail(context.Canceled)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cancel()
		return nil, engine.ErrNotOpen
	}
	if err := c.queue.TryEnqueue(s); err != nil {
		cancel()
		if errors.Is(err, task.ErrFullQueue) {
			return nil, engine.NewError(engine.CodeResourceExhausted, errors.Wrapf(err, "%d requests already waiting", c.queue.Len()))
		}
		return nil, errors.Wrapf(err, "failed to enqueue request")
	}
	return s, nil
}

func (c *http1Conn) fail(err error) {
	c.setReason(false, err)
	c.abort()
}

func (c *http1Conn) abort() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_, reason := c.closedError()
	_ = c.queue.CloseByError(reason)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *http1Conn) writeLoop() {
	bw := bufio.NewWriter(c.conn)
	for {
		s, err := c.queue.Dequeue()
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			s.complete(c.closedError())
			continue
		}
		c.inflight <- s
		c.mu.Unlock()

		if err := s.req.Write(bw); err != nil {
			c.fail(errors.Wrapf(err, "failed to write request of stream %d", s.id))
			return
		}
		if err := bw.Flush(); err != nil {
			c.fail(errors.Wrapf(err, "failed to flush request of stream %d", s.id))
			return
		}

		select {
		case <-s.responded:
		case <-c.done:
			return
		}
	}
}

func (c *http1Conn) readLoop() {
	defer c.drain()
	for {
		if _, err := c.br.Peek(1); err != nil {
			c.fail(err)
			return
		}
		var s *stream
		select {
		case s = <-c.inflight:
		default:
			c.fail(errUnsolicited)
			return
		}

		keepAlive, code, err := c.readResponse(s)
		s.complete(code, err)
		if !keepAlive {
			if err == nil {
				c.closedCleanly.Store(true)
				err = errServerClosed
			}
			c.fail(err)
			return
		}
		close(s.responded)
	}
}

// readResponse delivers informational responses until the final one.
// keepAlive reports whether the connection can carry the next request.
func (c *http1Conn) readResponse(s *stream) (keepAlive bool, code engine.ErrorCode, err error) {
	for {
		resp, err := http.ReadResponse(c.br, s.req)
		if err != nil {
			return false, codeOr(err, engine.CodeProtocol), errors.Wrapf(err, "failed to read response of stream %d", s.id)
		}
		switch {
		case resp.StatusCode == http.StatusSwitchingProtocols:
			_ = resp.Body.Close()
			return false, engine.CodeProtocol, errSwitched
		case resp.StatusCode >= 100 && resp.StatusCode < 200:
			if err := s.deliverInformational(resp.StatusCode, resp.Header); err != nil {
				return false, codeOf(err), err
			}
			continue
		}

		err = s.deliverResponse(resp)
		_ = resp.Body.Close()
		if err != nil {
			return false, codeOr(err, engine.CodeProtocol), err
		}
		return !resp.Close, engine.CodeOK, nil
	}
}

// drain completes the requests the connection will never answer.
func (c *http1Conn) drain() {
	c.abort()
	code, err := c.closedError()
	select {
	case s := <-c.inflight:
		s.complete(code, err)
	default:
	}
	for _, s := range c.queue.Drain() {
		s.complete(code, err)
	}
}
