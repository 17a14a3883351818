package client

import (
	"io"
	"strings"
	"time"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

// ConnectionOptions is copied by Connect; later changes have no effect on
// the attempt.
type ConnectionOptions struct {
	HostName          string
	Port              uint16
	Bootstrap         *engine.Bootstrap
	SocketOptions     engine.SocketOptions
	TLSOptions        *engine.TLSOptions
	ProxyOptions      *engine.ProxyOptions
	InitialWindowSize uint64
	// HTTP2PriorKnowledge speaks HTTP/2 over cleartext.
	HTTP2PriorKnowledge bool
	// SetupTimeout bounds the whole attempt, proxy and TLS included. When it
	// expires, setup fails with CodeTimeout and a late connection is released.
	// Zero leaves the limit to the engine.
	SetupTimeout time.Duration

	// OnConnectionSetup is required. It is called exactly once, with either
	// a connection or an *Error of KindConnectionSetup.
	OnConnectionSetup func(conn *Connection, err error)
	// OnConnectionShutdown is called at most once, after OnConnectionSetup
	// returned a connection. err is nil when the connection was closed locally
	// or the peer closed it cleanly after a complete response.
	OnConnectionShutdown func(conn *Connection, err error)
}

func (o *ConnectionOptions) engineOptions() (*engine.ConnectOptions, error) {
	host, err := hostToASCII(o.HostName)
	if err != nil {
		return nil, err
	}
	opts := &engine.ConnectOptions{
		HostName:            host,
		Port:                o.Port,
		Bootstrap:           o.Bootstrap,
		Socket:              o.SocketOptions,
		TLS:                 o.TLSOptions,
		Proxy:               o.ProxyOptions,
		InitialWindowSize:   o.InitialWindowSize,
		HTTP2PriorKnowledge: o.HTTP2PriorKnowledge,
	}
	if o.ProxyOptions != nil {
		proxy := *o.ProxyOptions
		if proxy.HostName, err = hostToASCII(proxy.HostName); err != nil {
			return nil, errors.Wrapf(err, "proxy")
		}
		opts.Proxy = &proxy
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

type RequestOptions struct {
	Method  string
	Path    string
	Headers Headers
	Body    io.Reader
	// ContentLength of Body; zero or negative when unknown.
	ContentLength int64

	// The handlers below run on engine goroutines, one at a time per stream.
	// A non-nil error aborts the stream; it then completes with
	// CodeCallbackAbort wrapping that error.
	OnIncomingHeaders          func(s *Stream, block HeaderBlock, headers Headers) error
	OnIncomingHeadersBlockDone func(s *Stream, block HeaderBlock) error
	// OnIncomingBody receives a view that is reused after it returns.
	OnIncomingBody func(s *Stream, data []byte) error
	// OnStreamComplete is required and always the last call for the stream.
	OnStreamComplete func(s *Stream, err error)
}

func (o *RequestOptions) validate() error {
	if o.OnStreamComplete == nil {
		return errors.Newf("OnStreamComplete is required")
	}
	if !validMethod(o.Method) {
		return errors.Newf("invalid method %q", o.Method)
	}
	if !strings.HasPrefix(o.Path, "/") {
		return errors.Newf("invalid path %q", o.Path)
	}
	return validateHeaders(o.Headers)
}
