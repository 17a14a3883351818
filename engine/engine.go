// Package engine defines the boundary between the connection lifecycle layer
// and an HTTP protocol engine.
//
// The boundary is deliberately narrow and callback driven: Connect reports its
// result only through SetupFunc, a Connection reports its end only through
// ShutdownFunc, and a Stream reports its response only through the callbacks
// of its RequestOptions. Callbacks run on goroutines owned by the engine.
// Callbacks of one stream never overlap; everything else may run concurrently.
package engine

import (
	"github.com/raiich/httpconn/lib/errors"
)

var (
	ErrReleased     = errors.Newf("engine: handle already released")
	ErrNotOpen      = errors.Newf("engine: connection is not open")
	ErrInvalidState = errors.Newf("engine: invalid state")
)

// Engine opens connections.
type Engine interface {
	// Connect starts a connection attempt and returns immediately. onSetup is
	// called exactly once, with a nil Connection and a non-zero code on failure,
	// including failures detected synchronously. onShutdown is called at most
	// once, only for connections passed to onSetup, and only after onSetup
	// returned. userData is passed back unchanged to both.
	Connect(opts *ConnectOptions, onSetup SetupFunc, onShutdown ShutdownFunc, userData any)
}

type SetupFunc func(conn Connection, code ErrorCode, err error, userData any)

type ShutdownFunc func(conn Connection, code ErrorCode, err error, userData any)

// Connection is an established HTTP connection.
type Connection interface {
	IsOpen() bool
	// Close starts closing the connection. Shutdown is reported asynchronously.
	Close()
	// MakeRequest submits a request. The returned Stream is already active.
	MakeRequest(opts *RequestOptions) (Stream, error)
	// Release closes the connection if needed and frees the handle. Calls
	// after Release fail with ErrReleased.
	Release()
	Version() Version
}

// Stream is one request/response exchange on a Connection.
type Stream interface {
	ID() uint64
	// ResponseStatus is valid once the main header block started.
	ResponseStatus() int
	// Release frees the handle. A stream released before completion is
	// canceled; its completion callback still fires.
	Release()
}

type Version int

const (
	VersionUnknown Version = iota
	Version1_1
	Version2
)

func (v Version) String() string {
	switch v {
	case Version1_1:
		return "HTTP/1.1"
	case Version2:
		return "HTTP/2"
	default:
		return "unknown"
	}
}

// Status is returned by stream callbacks; any value other than
// StatusContinue aborts the stream.
type Status int

const (
	StatusContinue Status = 0
	StatusAbort    Status = 1
)
