// Package pool keeps client connections per endpoint so that requests to the
// same host:port reuse them.
package pool

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/raiich/httpconn/client"
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/task"
)

var ErrClosed = errors.Newf("pool: closed")

type Key struct {
	HostName string
	Port     uint16
}

func (k Key) String() string {
	return net.JoinHostPort(k.HostName, strconv.Itoa(int(k.Port)))
}

type Manager struct {
	eng      engine.Engine
	settings *settings

	mu        sync.Mutex
	endpoints map[Key]*Endpoint
	closed    bool
}

func NewManager(eng engine.Engine, opts ...Option) *Manager {
	return &Manager{
		eng:       eng,
		settings:  newSettings(opts...),
		endpoints: make(map[Key]*Endpoint),
	}
}

// Endpoint returns the endpoint for host:port, creating it on first use.
func (m *Manager) Endpoint(host string, port uint16) (*Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	key := Key{HostName: host, Port: port}
	e, ok := m.endpoints[key]
	if !ok {
		e = newEndpoint(m, key, task.NewAsyncDispatcher(m.settings.ctx))
		m.endpoints[key] = e
		go func() {
			log.OnError(e.dispatcher.Launch())
		}()
	}
	return e, nil
}

// Acquire returns an open connection to host:port for the caller's exclusive
// use until it is given back with Release.
func (m *Manager) Acquire(ctx context.Context, host string, port uint16) (*client.Connection, error) {
	e, err := m.Endpoint(host, port)
	if err != nil {
		return nil, err
	}
	return e.Acquire(ctx)
}

// Release gives conn back to its endpoint.
func (m *Manager) Release(conn *client.Connection) {
	m.mu.Lock()
	e, ok := m.endpoints[Key{HostName: conn.HostName(), Port: conn.Port()}]
	m.mu.Unlock()
	if !ok {
		conn.Release()
		return
	}
	e.Release(conn)
}

// Delete closes the endpoint for host:port and its connections.
func (m *Manager) Delete(host string, port uint16) {
	key := Key{HostName: host, Port: port}
	m.mu.Lock()
	e, ok := m.endpoints[key]
	delete(m.endpoints, key)
	m.mu.Unlock()
	if ok {
		e.close()
	}
}

// Close closes every endpoint. Acquire fails with ErrClosed afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	endpoints := m.endpoints
	m.endpoints = make(map[Key]*Endpoint)
	m.closed = true
	m.mu.Unlock()
	for _, e := range endpoints {
		e.close()
	}
}
