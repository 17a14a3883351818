package nethttp

import (
	"context"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/task"
)

type http2Conn struct {
	*connBase
	conn      *trackedConn
	cc        *http2.ClientConn
	closing   atomic.Bool
	closeOnce sync.Once
}

var _ engine.Connection = (*http2Conn)(nil)

func newHTTP2Conn(base *connBase, conn *trackedConn) (*http2Conn, error) {
	t := &http2.Transport{
		AllowHTTP:          true,
		DisableCompression: true,
		ReadIdleTimeout:    base.settings.readIdleTimeout,
		PingTimeout:        base.settings.pingTimeout,
	}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start HTTP/2 connection")
	}
	return &http2Conn{
		connBase: base,
		conn:     conn,
		cc:       cc,
	}, nil
}

func (c *http2Conn) IsOpen() bool {
	if c.released.Load() || c.closing.Load() {
		return false
	}
	st := c.cc.State()
	return !st.Closed && !st.Closing
}

// Close sends GOAWAY and lets active streams finish for the grace period.
func (c *http2Conn) Close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.setReason(true, nil)
		timer := task.AfterFunc(c.settings.shutdownGracePeriod, func() {
			c.logger.Debug("grace period expired, closing connection", "conn", c.id)
			_ = c.cc.Close()
		})
		go func() {
			if err := c.cc.Shutdown(context.Background()); err != nil {
				c.logger.Debug("graceful shutdown failed", "conn", c.id, "error", err)
				_ = c.cc.Close()
			}
			timer.Stop()
		}()
	})
}

func (c *http2Conn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.Close()
	}
}

func (c *http2Conn) MakeRequest(opts *engine.RequestOptions) (engine.Stream, error) {
	if c.released.Load() {
		return nil, engine.ErrReleased
	}
	if !c.IsOpen() {
		return nil, engine.ErrNotOpen
	}
	s, err := c.newStream(opts, 2)
	if err != nil {
		return nil, err
	}
	go c.roundTrip(s)
	return s, nil
}

func (c *http2Conn) roundTrip(s *stream) {
	defer s.cancel()

	var aborted atomic.Bool
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			if err := s.deliverInformational(code, http.Header(header)); err != nil {
				aborted.Store(true)
				return err
			}
			return nil
		},
	}
	req := s.req.WithContext(httptrace.WithClientTrace(s.req.Context(), trace))
	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		if aborted.Load() {
			s.complete(engine.CodeCallbackAbort, errCallbackAbort)
			return
		}
		s.complete(c.codeOf(err), err)
		return
	}
	defer resp.Body.Close()

	if err := s.deliverResponse(resp); err != nil {
		s.complete(c.codeOf(err), err)
		return
	}
	s.complete(engine.CodeOK, nil)
}

// codeOf treats unrecognized errors on a dead connection as connection loss.
func (c *http2Conn) codeOf(err error) engine.ErrorCode {
	code := codeOf(err)
	if code == engine.CodeUnknown && !c.IsOpen() {
		return engine.CodeConnectionClosed
	}
	return code
}
