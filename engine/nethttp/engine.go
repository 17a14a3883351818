// Package nethttp is the default engine. HTTP/1.1 is spoken with net/http's
// wire codec and HTTP/2 with golang.org/x/net/http2, one connection per
// engine.Connection and without pooling.
package nethttp

import (
	"context"
	"crypto/tls"
	"net"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

var defaultALPN = []string{"h2", "http/1.1"}

type Engine struct {
	settings *settings
	nextID   atomic.Uint64
}

var _ engine.Engine = (*Engine)(nil)

func New(opts ...Option) *Engine {
	return &Engine{
		settings: newSettings(opts...),
	}
}

func (e *Engine) Connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	if err := opts.Validate(); err != nil {
		go onSetup(nil, engine.CodeInvalidArgument, err, userData)
		return
	}
	o := copyOptions(opts)
	go e.connect(o, onSetup, onShutdown, userData)
}

func copyOptions(opts *engine.ConnectOptions) *engine.ConnectOptions {
	o := *opts
	if o.Bootstrap == nil {
		o.Bootstrap = engine.DefaultBootstrap()
	}
	o.TLS = copyTLS(opts.TLS)
	if opts.Proxy != nil {
		proxy := *opts.Proxy
		proxy.TLS = copyTLS(opts.Proxy.TLS)
		o.Proxy = &proxy
	}
	return &o
}

func copyTLS(opts *engine.TLSOptions) *engine.TLSOptions {
	if opts == nil {
		return nil
	}
	o := &engine.TLSOptions{
		ALPN: slices.Clone(opts.ALPN),
	}
	if opts.Config != nil {
		o.Config = opts.Config.Clone()
	}
	return o
}

func (e *Engine) connect(opts *engine.ConnectOptions, onSetup engine.SetupFunc, onShutdown engine.ShutdownFunc, userData any) {
	id := e.nextID.Add(1)
	logger := e.settings.logger
	address := opts.Address()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Socket.Timeout())
	defer cancel()
	conn, version, err := dial(ctx, opts)
	if err != nil {
		code := codeOf(err)
		logger.Debug("failed to connect", "conn", id, "addr", address, "code", code, "error", err)
		onSetup(nil, code, err, userData)
		return
	}

	base := &connBase{
		id:         id,
		version:    version,
		address:    address,
		scheme:     "http",
		authority:  authority(opts),
		logger:     logger,
		settings:   e.settings,
		bufSize:    bodyBufferSize(opts.InitialWindowSize),
		onShutdown: onShutdown,
		userData:   userData,
		ready:      make(chan struct{}),
	}
	if opts.TLS != nil {
		base.scheme = "https"
	}
	tracked := &trackedConn{Conn: conn, owner: base}

	var c engine.Connection
	switch version {
	case engine.Version2:
		c, err = newHTTP2Conn(base, tracked)
	default:
		c = newHTTP1Conn(base, tracked)
	}
	if err != nil {
		base.finishSetup(false)
		_ = tracked.Close()
		code := codeOr(err, engine.CodeProtocol)
		logger.Debug("failed to start connection", "conn", id, "addr", address, "code", code, "error", err)
		onSetup(nil, code, err, userData)
		return
	}
	base.self = c
	logger.Debug("connection established", "conn", id, "addr", address, "version", version)
	onSetup(c, engine.CodeOK, nil, userData)
	base.finishSetup(true)
}

// authority omits the port when it is the default for the scheme.
func authority(opts *engine.ConnectOptions) string {
	if (opts.TLS != nil && opts.Port == 443) || (opts.TLS == nil && opts.Port == 80) {
		if strings.Contains(opts.HostName, ":") {
			return "[" + opts.HostName + "]"
		}
		return opts.HostName
	}
	return opts.Address()
}

func dial(ctx context.Context, opts *engine.ConnectOptions) (net.Conn, engine.Version, error) {
	var conn net.Conn
	var err error
	if opts.Proxy != nil {
		conn, err = dialProxy(ctx, opts, opts.Address())
	} else {
		conn, err = opts.Bootstrap.DialContext(ctx, opts.Socket, opts.Address())
	}
	if err != nil {
		return nil, engine.VersionUnknown, err
	}

	if opts.TLS == nil {
		if opts.HTTP2PriorKnowledge {
			return conn, engine.Version2, nil
		}
		return conn, engine.Version1_1, nil
	}

	tlsConn, err := handshake(ctx, conn, opts.TLS, opts.HostName, defaultALPN)
	if err != nil {
		_ = conn.Close()
		return nil, engine.VersionUnknown, err
	}
	switch proto := tlsConn.ConnectionState().NegotiatedProtocol; proto {
	case "h2":
		return tlsConn, engine.Version2, nil
	case "", "http/1.1":
		return tlsConn, engine.Version1_1, nil
	default:
		_ = tlsConn.Close()
		return nil, engine.VersionUnknown, engine.NewError(engine.CodeUnsupportedProtocol, errors.Newf("unsupported protocol negotiated: %q", proto))
	}
}

// handshake secures conn. protos apply when neither opts.ALPN nor
// Config.NextProtos are set.
func handshake(ctx context.Context, conn net.Conn, opts *engine.TLSOptions, serverName string, protos []string) (*tls.Conn, error) {
	config := &tls.Config{}
	if opts.Config != nil {
		config = opts.Config.Clone()
	}
	if config.ServerName == "" {
		config.ServerName = serverName
	}
	switch {
	case len(opts.ALPN) > 0:
		config.NextProtos = opts.ALPN
	case len(config.NextProtos) == 0:
		config.NextProtos = protos
	}
	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "TLS handshake with %s failed", serverName)
	}
	return tlsConn, nil
}
