package pool

import (
	"context"

	"github.com/google/uuid"

	"github.com/raiich/httpconn/client"
	"github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/state"
	"github.com/raiich/httpconn/lib/task"
)

// Endpoint owns the connections to one host:port. Its fields below the
// dispatcher are only touched by tasks on that dispatcher.
type Endpoint struct {
	key        Key
	manager    *Manager
	dispatcher *task.AsyncDispatcher

	entries map[uuid.UUID]*entry
	pending int
	waiters []chan<- acquired
	closed  bool
}

// entry is a pooled connection. Its idle timer is bound to the idle state,
// so lending the connection cancels it.
type entry struct {
	conn  *client.Connection
	state state.LoggingCurrentState[entryState]
}

func newEntry(conn *client.Connection) *entry {
	en := &entry{conn: conn}
	en.state.WithAttrs("conn", conn.ID())
	en.state.Set(entryInUse{})
	return en
}

func (en *entry) inUse() bool {
	_, ok := en.state.Get().(entryInUse)
	return ok
}

type entryState interface {
	String() string
}

type entryIdle struct{}

func (entryIdle) String() string { return "idle" }

type entryInUse struct{}

func (entryInUse) String() string { return "in-use" }

type acquired struct {
	conn *client.Connection
	err  error
}

// Stats is a snapshot of an endpoint.
type Stats struct {
	Idle    int
	InUse   int
	Pending int
	Waiting int
}

func newEndpoint(m *Manager, key Key, dispatcher *task.AsyncDispatcher) *Endpoint {
	return &Endpoint{
		key:        key,
		manager:    m,
		dispatcher: dispatcher,
		entries:    make(map[uuid.UUID]*entry),
	}
}

func (e *Endpoint) Key() Key {
	return e.key
}

// Acquire reuses an idle open connection, or connects when the endpoint is
// below its limit, or waits for a connection to be released. A connection
// handed over after ctx ended goes back to the endpoint.
func (e *Endpoint) Acquire(ctx context.Context) (*client.Connection, error) {
	ch := make(chan acquired, 1)
	// enqueued regardless of ctx so that a lent connection always reaches ch
	if err := e.dispatcher.InvokeSync(context.Background(), func() { e.acquire(ch) }); err != nil {
		return nil, errors.Wrapf(ErrClosed, "%s", e.key)
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
				e.Release(r.conn)
			}
		}()
		return nil, context.Cause(ctx)
	}
}

// Release makes conn available to the next Acquire.
func (e *Endpoint) Release(conn *client.Connection) {
	if err := e.dispatcher.InvokeSync(context.Background(), func() { e.release(conn) }); err != nil {
		conn.Release()
	}
}

func (e *Endpoint) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := e.dispatcher.InvokeSync(ctx, func() {
		for _, en := range e.entries {
			if en.inUse() {
				stats.InUse++
			} else {
				stats.Idle++
			}
		}
		stats.Pending = e.pending
		stats.Waiting = len(e.waiters)
	})
	return stats, err
}

func (e *Endpoint) acquire(ch chan<- acquired) {
	if e.closed {
		ch <- acquired{err: ErrClosed}
		return
	}
	if en := e.idleEntry(); en != nil {
		e.lend(en, ch)
		return
	}
	if len(e.entries)+e.pending < e.manager.settings.maxConnections {
		e.connect(ch)
		return
	}
	e.waiters = append(e.waiters, ch)
}

func (e *Endpoint) idleEntry() *entry {
	for id, en := range e.entries {
		if en.inUse() {
			continue
		}
		if !en.conn.IsOpen() {
			// its shutdown task removes it
			log.Debug("skipping closed idle connection", "endpoint", e.key, "conn", id)
			continue
		}
		return en
	}
	return nil
}

func (e *Endpoint) lend(en *entry, ch chan<- acquired) {
	en.state.Set(entryInUse{})
	ch <- acquired{conn: en.conn}
}

func (e *Endpoint) connect(ch chan<- acquired) {
	opts := e.manager.settings.connection
	opts.HostName = e.key.HostName
	opts.Port = e.key.Port
	opts.OnConnectionSetup = func(conn *client.Connection, err error) {
		if ierr := e.dispatcher.InvokeSync(context.Background(), func() { e.onSetup(conn, err, ch) }); ierr != nil {
			if conn != nil {
				conn.Release()
			}
			ch <- acquired{err: ErrClosed}
		}
	}
	opts.OnConnectionShutdown = func(conn *client.Connection, err error) {
		e.dispatcher.InvokeFunc(context.Background(), func() { e.onShutdown(conn, err) })
	}
	e.pending++
	if err := client.Connect(e.manager.eng, opts); err != nil {
		e.pending--
		ch <- acquired{err: err}
	}
}

func (e *Endpoint) onSetup(conn *client.Connection, err error, ch chan<- acquired) {
	e.pending--
	if err != nil {
		log.Debug("pool connection failed", "endpoint", e.key, "error", err)
		ch <- acquired{err: err}
		e.serveWaiters()
		return
	}
	if e.closed {
		conn.Release()
		ch <- acquired{err: ErrClosed}
		return
	}
	log.Debug("pool connection added", "endpoint", e.key, "conn", conn.ID())
	en := newEntry(conn)
	e.entries[conn.ID()] = en
	e.lend(en, ch)
}

func (e *Endpoint) onShutdown(conn *client.Connection, err error) {
	en, ok := e.entries[conn.ID()]
	if !ok || en.conn != conn {
		return
	}
	log.Debug("pool connection shut down", "endpoint", e.key, "conn", conn.ID(), "error", err)
	e.remove(conn.ID(), en)
	e.serveWaiters()
}

func (e *Endpoint) release(conn *client.Connection) {
	en, ok := e.entries[conn.ID()]
	if !ok || en.conn != conn {
		// removed after shutdown or never pooled here
		conn.Release()
		return
	}
	if !en.inUse() {
		log.Warn("connection released twice", "endpoint", e.key, "conn", conn.ID())
		return
	}
	en.state.Set(entryIdle{})
	if !conn.IsOpen() {
		e.remove(conn.ID(), en)
		e.serveWaiters()
		return
	}
	if len(e.waiters) > 0 {
		e.serveWaiters()
		return
	}
	id := conn.ID()
	log.OnError(en.state.AfterFunc(e.dispatcher, e.manager.settings.idleTimeout, func() {
		if cur, ok := e.entries[id]; ok && cur == en {
			log.Debug("closing idle connection", "endpoint", e.key, "conn", id)
			e.remove(id, en)
		}
	}))
}

func (e *Endpoint) remove(id uuid.UUID, en *entry) {
	en.state.StopTimer()
	delete(e.entries, id)
	en.conn.Release()
}

// serveWaiters hands idle connections or free slots to waiting acquirers in
// arrival order.
func (e *Endpoint) serveWaiters() {
	for len(e.waiters) > 0 {
		if en := e.idleEntry(); en != nil {
			ch := e.waiters[0]
			e.waiters = e.waiters[1:]
			e.lend(en, ch)
			continue
		}
		if len(e.entries)+e.pending >= e.manager.settings.maxConnections {
			return
		}
		ch := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.connect(ch)
	}
}

func (e *Endpoint) close() {
	err := e.dispatcher.InvokeSync(context.Background(), func() {
		e.closed = true
		for id, en := range e.entries {
			e.remove(id, en)
		}
		for _, ch := range e.waiters {
			ch <- acquired{err: ErrClosed}
		}
		e.waiters = nil
		log.OnError(e.dispatcher.Stop())
	})
	log.OnError(err)
}
