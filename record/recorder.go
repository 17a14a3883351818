package record

import (
	"io"
	"slices"
	"sync"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/internal/log"
)

// Recorder writes every stream of the engines it wraps. The events of a
// stream are buffered and written together once it completes, so concurrent
// streams never interleave.
type Recorder struct {
	mu       sync.Mutex
	w        *Writer
	err      error
	sessions int
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: NewWriter(w)}
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Sessions counts the sessions written so far.
func (r *Recorder) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

func (r *Recorder) write(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.w.WriteSession(s); err != nil {
		log.Warn("failed to record session", "error", err)
		r.err = err
		return
	}
	r.sessions++
}

// Wrap returns an engine whose streams are recorded by r.
func (r *Recorder) Wrap(eng engine.Engine) engine.Engine {
	return &recordingEngine{Engine: eng, recorder: r}
}

// Tap returns a copy of opts whose callbacks record each event before
// calling the original callback.
func (r *Recorder) Tap(opts *engine.RequestOptions) *engine.RequestOptions {
	tapped := *opts
	session := &Session{}
	status := 0

	tapped.OnResponseHeaders = func(s engine.Stream, block engine.HeaderBlock, headers []engine.Header, userData any) engine.Status {
		if block != engine.HeaderBlockTrailing {
			if st := s.ResponseStatus(); st != status {
				status = st
				session.Events = append(session.Events, Event{Kind: EventStatus, Status: st})
			}
		}
		session.Events = append(session.Events, Event{Kind: EventHeaders, Block: block, Headers: cloneHeaders(headers)})
		if opts.OnResponseHeaders == nil {
			return engine.StatusContinue
		}
		return opts.OnResponseHeaders(s, block, headers, userData)
	}
	tapped.OnResponseHeaderBlockDone = func(s engine.Stream, block engine.HeaderBlock, userData any) engine.Status {
		session.Events = append(session.Events, Event{Kind: EventBlockDone, Block: block})
		if opts.OnResponseHeaderBlockDone == nil {
			return engine.StatusContinue
		}
		return opts.OnResponseHeaderBlockDone(s, block, userData)
	}
	tapped.OnResponseBody = func(s engine.Stream, data []byte, userData any) engine.Status {
		session.Events = append(session.Events, Event{Kind: EventBody, Data: slices.Clone(data)})
		if opts.OnResponseBody == nil {
			return engine.StatusContinue
		}
		return opts.OnResponseBody(s, data, userData)
	}
	tapped.OnComplete = func(s engine.Stream, code engine.ErrorCode, err error, userData any) {
		e := Event{Kind: EventComplete, Code: code}
		if err != nil {
			e.Message = err.Error()
		}
		session.Events = append(session.Events, e)
		r.write(session)
		if opts.OnComplete != nil {
			opts.OnComplete(s, code, err, userData)
		}
	}
	return &tapped
}

func cloneHeaders(headers []engine.Header) []engine.Header {
	cloned := make([]engine.Header, len(headers))
	for i, h := range headers {
		cloned[i] = engine.Header{Name: slices.Clone(h.Name), Value: slices.Clone(h.Value)}
	}
	return cloned
}

type recordingEngine struct {
	engine.Engine
	recorder *Recorder
}

type recordingUserData struct {
	recorder   *Recorder
	onSetup    engine.SetupFunc
	onShutdown engine.ShutdownFunc
	userData   any
	conn       *recordingConnection
}

func (e *recordingEngine) Connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	ud := &recordingUserData{
		recorder:   e.recorder,
		onSetup:    onSetup,
		onShutdown: onShutdown,
		userData:   userData,
	}
	e.Engine.Connect(opts, recordingSetup, recordingShutdown, ud)
}

func recordingSetup(conn engine.Connection, code engine.ErrorCode, err error, userData any) {
	ud := userData.(*recordingUserData)
	if conn == nil {
		ud.onSetup(nil, code, err, ud.userData)
		return
	}
	ud.conn = &recordingConnection{Connection: conn, recorder: ud.recorder}
	ud.onSetup(ud.conn, code, err, ud.userData)
}

func recordingShutdown(conn engine.Connection, code engine.ErrorCode, err error, userData any) {
	ud := userData.(*recordingUserData)
	if ud.onShutdown == nil {
		return
	}
	var wrapped engine.Connection = conn
	if ud.conn != nil {
		wrapped = ud.conn
	}
	ud.onShutdown(wrapped, code, err, ud.userData)
}

type recordingConnection struct {
	engine.Connection
	recorder *Recorder
}

func (c *recordingConnection) MakeRequest(opts *engine.RequestOptions) (engine.Stream, error) {
	return c.Connection.MakeRequest(c.recorder.Tap(opts))
}
