package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/raiich/httpconn/client/internal"
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/internal/log"
)

// Stream is one request/response exchange. It is valid as soon as
// Connection.NewStream returns, before any response arrived.
type Stream struct {
	conn     *Connection
	opts     RequestOptions
	handle   atomic.Pointer[streamHandle]
	token    *internal.Token
	released atomic.Bool

	// touched only from engine callbacks, which are serialized per stream
	state     internal.StreamState
	abortCode engine.ErrorCode
	abortErr  error

	mu      sync.Mutex
	headers map[HeaderBlock]Headers
	status  atomic.Int64
	err     error
	done    chan struct{}
}

type streamHandle struct {
	engine.Stream
}

func newStream(conn *Connection, opts RequestOptions) *Stream {
	s := &Stream{
		conn:    conn,
		opts:    opts,
		headers: make(map[HeaderBlock]Headers),
		done:    make(chan struct{}),
	}
	// one reference for the completion callback, one for the caller
	s.token = internal.NewToken("stream", 2, func() {
		if h := s.handle.Load(); h != nil {
			h.Release()
		}
	})
	return s
}

func (s *Stream) bind(es engine.Stream) {
	if es != nil && s.handle.Load() == nil {
		s.handle.CompareAndSwap(nil, &streamHandle{Stream: es})
	}
}

func (s *Stream) engineOptions() *engine.RequestOptions {
	return &engine.RequestOptions{
		Method:                    s.opts.Method,
		Path:                      s.opts.Path,
		Headers:                   headersToEngine(s.opts.Headers),
		Body:                      s.opts.Body,
		ContentLength:             s.opts.ContentLength,
		UserData:                  s,
		OnResponseHeaders:         onResponseHeaders,
		OnResponseHeaderBlockDone: onResponseHeaderBlockDone,
		OnResponseBody:            onResponseBody,
		OnComplete:                onStreamComplete,
	}
}

// ID is the engine's stream identifier.
func (s *Stream) ID() uint64 {
	if h := s.handle.Load(); h != nil {
		return h.ID()
	}
	return 0
}

func (s *Stream) Connection() *Connection {
	return s.conn
}

// ResponseStatus is the status of the latest informational or main block,
// 0 before any arrived.
func (s *Stream) ResponseStatus() int {
	return int(s.status.Load())
}

// Headers returns a copy of the fields received so far for block.
func (s *Stream) Headers(block HeaderBlock) Headers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[block].Clone()
}

// Done is closed after OnStreamComplete returned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err is the completion error, nil before completion or on success.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the stream completed or ctx is done.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Release drops the caller's reference. A stream still in flight runs to
// completion; Connection.Close is the way to stop it.
func (s *Stream) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.release("caller")
}

func (s *Stream) release(path string) {
	if err := s.token.Release(); err != nil {
		log.Warn("unbalanced stream release", "path", path, "stream", s.ID(), "error", err)
	}
}

// abort records the first reason and tells the engine to stop the stream.
func (s *Stream) abort(code engine.ErrorCode, err error) engine.Status {
	if s.abortErr == nil {
		s.abortCode, s.abortErr = code, err
		log.Debug("aborting stream", "conn", s.conn.ID(), "stream", s.ID(), "code", code, "error", err)
	}
	return engine.StatusAbort
}

func onResponseHeaders(es engine.Stream, block engine.HeaderBlock, views []engine.Header, userData any) engine.Status {
	s := userData.(*Stream)
	s.bind(es)
	if s.abortErr != nil {
		return engine.StatusAbort
	}
	if err := s.state.OnHeaders(block); err != nil {
		return s.abort(engine.CodeProtocol, err)
	}
	if es != nil && block != engine.HeaderBlockTrailing {
		s.status.Store(int64(es.ResponseStatus()))
	}
	headers := headersFromEngine(views)
	s.mu.Lock()
	s.headers[block] = append(s.headers[block], headers...)
	s.mu.Unlock()
	if f := s.opts.OnIncomingHeaders; f != nil {
		if err := f(s, block, headers); err != nil {
			return s.abort(engine.CodeCallbackAbort, err)
		}
	}
	return engine.StatusContinue
}

func onResponseHeaderBlockDone(es engine.Stream, block engine.HeaderBlock, userData any) engine.Status {
	s := userData.(*Stream)
	s.bind(es)
	if s.abortErr != nil {
		return engine.StatusAbort
	}
	if err := s.state.OnBlockDone(block); err != nil {
		return s.abort(engine.CodeProtocol, err)
	}
	if f := s.opts.OnIncomingHeadersBlockDone; f != nil {
		if err := f(s, block); err != nil {
			return s.abort(engine.CodeCallbackAbort, err)
		}
	}
	return engine.StatusContinue
}

func onResponseBody(es engine.Stream, data []byte, userData any) engine.Status {
	s := userData.(*Stream)
	s.bind(es)
	if s.abortErr != nil {
		return engine.StatusAbort
	}
	if err := s.state.OnBody(); err != nil {
		return s.abort(engine.CodeProtocol, err)
	}
	if f := s.opts.OnIncomingBody; f != nil {
		if err := f(s, data); err != nil {
			return s.abort(engine.CodeCallbackAbort, err)
		}
	}
	return engine.StatusContinue
}

func onStreamComplete(es engine.Stream, code engine.ErrorCode, err error, userData any) {
	s := userData.(*Stream)
	s.bind(es)
	if serr := s.state.OnComplete(); serr != nil {
		log.Warn("duplicate stream completion ignored", "conn", s.conn.ID(), "stream", s.ID(), "error", serr)
		return
	}
	if s.abortErr != nil {
		code, err = s.abortCode, s.abortErr
	}
	s.err = newError(KindStreamTransport, code, err)
	log.Debug("stream complete", "conn", s.conn.ID(), "stream", s.ID(), "status", s.ResponseStatus(), "error", s.err)
	s.opts.OnStreamComplete(s, s.err)
	close(s.done)
	s.release("completion")
}
