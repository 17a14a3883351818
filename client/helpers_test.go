package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/engine/replay"
	"github.com/raiich/httpconn/record"
)

const testTimeout = 5 * time.Second

type connResult struct {
	conn *Connection
	err  error
}

type connEvents struct {
	setup    chan connResult
	shutdown chan connResult
}

func newConnEvents() *connEvents {
	return &connEvents{
		setup:    make(chan connResult, 4),
		shutdown: make(chan connResult, 4),
	}
}

func (ev *connEvents) options(host string, port uint16) ConnectionOptions {
	return ConnectionOptions{
		HostName: host,
		Port:     port,
		OnConnectionSetup: func(conn *Connection, err error) {
			ev.setup <- connResult{conn: conn, err: err}
		},
		OnConnectionShutdown: func(conn *Connection, err error) {
			ev.shutdown <- connResult{conn: conn, err: err}
		},
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out")
		var zero T
		return zero
	}
}

// expectNone fails when ch delivers within a short grace period.
func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in %v", testTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustConnect(t *testing.T, eng engine.Engine) (*Connection, *connEvents) {
	t.Helper()
	ev := newConnEvents()
	if err := Connect(eng, ev.options("example.test", 443)); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	r := waitFor(t, ev.setup)
	if r.err != nil || r.conn == nil {
		t.Fatalf("setup failed: %v", r.err)
	}
	return r.conn, ev
}

func okSession(body string, headers ...engine.Header) *record.Session {
	return &record.Session{Events: []record.Event{
		{Kind: record.EventStatus, Status: 200},
		{Kind: record.EventHeaders, Block: engine.HeaderBlockMain, Headers: headers},
		{Kind: record.EventBlockDone, Block: engine.HeaderBlockMain},
		{Kind: record.EventBody, Data: []byte(body)},
		{Kind: record.EventComplete},
	}}
}

func header(name, value string) engine.Header {
	return engine.Header{Name: []byte(name), Value: []byte(value)}
}

// streamLog collects client stream callbacks in order.
type streamLog struct {
	events []string
	body   []byte
	err    error
	done   chan struct{}
}

func (l *streamLog) options() RequestOptions {
	l.done = make(chan struct{})
	return RequestOptions{
		Method: "GET",
		Path:   "/",
		OnIncomingHeaders: func(s *Stream, block HeaderBlock, headers Headers) error {
			for _, h := range headers {
				l.events = append(l.events, "headers:"+block.String()+":"+h.Name+"="+h.Value)
			}
			return nil
		},
		OnIncomingHeadersBlockDone: func(s *Stream, block HeaderBlock) error {
			l.events = append(l.events, "done:"+block.String())
			return nil
		},
		OnIncomingBody: func(s *Stream, data []byte) error {
			l.events = append(l.events, "body")
			l.body = append(l.body, data...)
			return nil
		},
		OnStreamComplete: func(s *Stream, err error) {
			l.events = append(l.events, "complete")
			l.err = err
			close(l.done)
		},
	}
}

func (l *streamLog) wait(t *testing.T) {
	t.Helper()
	waitFor(t, l.done)
}

// fakeConn is an engine connection that records its calls.
type fakeConn struct {
	closes   atomic.Int32
	releases atomic.Int32
}

func (c *fakeConn) IsOpen() bool            { return c.closes.Load() == 0 }
func (c *fakeConn) Close()                  { c.closes.Add(1) }
func (c *fakeConn) Release()                { c.releases.Add(1) }
func (c *fakeConn) Version() engine.Version { return engine.Version2 }

func (c *fakeConn) MakeRequest(*engine.RequestOptions) (engine.Stream, error) {
	return nil, engine.ErrNotOpen
}

// scriptEngine runs script instead of connecting.
type scriptEngine struct {
	script func(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any)
}

func (e *scriptEngine) Connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	go e.script(opts, onSetup, onShutdown, userData)
}

// gatedEngine holds Connect until gate is closed.
type gatedEngine struct {
	*replay.Engine
	gate chan struct{}
}

func (e *gatedEngine) Connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	go func() {
		<-e.gate
		e.Engine.Connect(opts, onSetup, onShutdown, userData)
	}()
}
