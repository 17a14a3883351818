package client

import (
	"fmt"

	"github.com/raiich/httpconn/client/internal"
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

var (
	ErrReleased    = errors.Newf("client: handle already released")
	ErrOverRelease = internal.ErrOverRelease
)

// ErrorKind tells which callback reported an Error.
type ErrorKind int

const (
	KindConnectionSetup ErrorKind = iota + 1
	KindConnectionShutdown
	KindStreamTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionSetup:
		return "connection setup"
	case KindConnectionShutdown:
		return "connection shutdown"
	case KindStreamTransport:
		return "stream transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error carries the engine code unchanged.
type Error struct {
	Kind ErrorKind
	Code engine.ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorCode() int {
	return int(e.Code)
}

func newError(kind ErrorKind, code engine.ErrorCode, err error) error {
	if code == engine.CodeOK {
		return nil
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// CodeOf returns the code carried by err: CodeOK for nil and CodeUnknown
// when err has none.
func CodeOf(err error) engine.ErrorCode {
	code := errors.Code(err)
	if code < 0 {
		return engine.CodeUnknown
	}
	return engine.ErrorCode(code)
}
