package engine

import (
	"fmt"
)

// ErrorCode is the integer code delivered through engine callbacks. Zero
// means success.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeUnknown
	CodeInvalidArgument
	CodeHostResolution
	CodeConnectionRefused
	CodeTimeout
	CodeTLSNegotiation
	CodeProxyConnect
	CodeConnectionClosed
	CodeProtocol
	CodeStreamReset
	CodeCallbackAbort
	CodeCanceled
	CodeUnsupportedProtocol
	CodeResourceExhausted
)

var codeNames = map[ErrorCode]string{
	CodeOK:                  "OK",
	CodeUnknown:             "UNKNOWN",
	CodeInvalidArgument:     "INVALID_ARGUMENT",
	CodeHostResolution:      "HOST_RESOLUTION",
	CodeConnectionRefused:   "CONNECTION_REFUSED",
	CodeTimeout:             "TIMEOUT",
	CodeTLSNegotiation:      "TLS_NEGOTIATION",
	CodeProxyConnect:        "PROXY_CONNECT",
	CodeConnectionClosed:    "CONNECTION_CLOSED",
	CodeProtocol:            "PROTOCOL",
	CodeStreamReset:         "STREAM_RESET",
	CodeCallbackAbort:       "CALLBACK_ABORT",
	CodeCanceled:            "CANCELED",
	CodeUnsupportedProtocol: "UNSUPPORTED_PROTOCOL",
	CodeResourceExhausted:   "RESOURCE_EXHAUSTED",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Error pairs a code with the Go error that caused it.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "engine: " + e.Code.String()
	}
	return fmt.Sprintf("engine: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorCode() int {
	return int(e.Code)
}

// NewError returns nil for CodeOK.
func NewError(code ErrorCode, err error) error {
	if code == CodeOK {
		return nil
	}
	return &Error{Code: code, Err: err}
}
