package engine

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/raiich/httpconn/lib/errors"
)

const (
	DefaultConnectTimeout = 10 * time.Second
)

// ConnectOptions is consumed synchronously by Engine.Connect. The engine
// copies what it keeps; the caller may reuse the value afterwards.
type ConnectOptions struct {
	HostName  string
	Port      uint16
	Bootstrap *Bootstrap
	Socket    SocketOptions
	TLS       *TLSOptions
	Proxy     *ProxyOptions
	// InitialWindowSize bounds how many body bytes the engine hands to one
	// OnResponseBody call. Zero selects the engine default.
	InitialWindowSize uint64
	// HTTP2PriorKnowledge speaks HTTP/2 without TLS (h2c).
	HTTP2PriorKnowledge bool
}

func (o *ConnectOptions) Validate() error {
	if o == nil {
		return errors.Newf("nil connect options")
	}
	if o.HostName == "" {
		return errors.Newf("empty host name")
	}
	if o.Port == 0 {
		return errors.Newf("port must be in [1, 65535]")
	}
	if o.Proxy != nil {
		if o.Proxy.HostName == "" || o.Proxy.Port == 0 {
			return errors.Newf("invalid proxy address %q:%d", o.Proxy.HostName, o.Proxy.Port)
		}
	}
	if o.TLS != nil && o.HTTP2PriorKnowledge {
		return errors.Newf("HTTP/2 prior knowledge requires a cleartext connection")
	}
	return nil
}

// Address is HostName:Port.
func (o *ConnectOptions) Address() string {
	return net.JoinHostPort(o.HostName, strconv.Itoa(int(o.Port)))
}

type SocketDomain int

const (
	DomainAny SocketDomain = iota
	DomainIPv4
	DomainIPv6
)

func (d SocketDomain) Network() string {
	switch d {
	case DomainIPv4:
		return "tcp4"
	case DomainIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

type SocketOptions struct {
	Domain         SocketDomain
	ConnectTimeout time.Duration
	// KeepAliveInterval is passed to net.Dialer: zero keeps the system
	// default and a negative value disables keepalive.
	KeepAliveInterval time.Duration
}

func (o SocketOptions) Timeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

type TLSOptions struct {
	// Config is cloned before use. ServerName defaults to the host name.
	Config *tls.Config
	// ALPN overrides Config.NextProtos. Defaults to h2 then http/1.1.
	ALPN []string
}

// ProxyOptions selects an HTTP proxy reached with CONNECT.
type ProxyOptions struct {
	HostName string
	Port     uint16
	Username string
	Password string
	// TLS secures the hop to the proxy itself.
	TLS *TLSOptions
}

func (o *ProxyOptions) Address() string {
	return net.JoinHostPort(o.HostName, strconv.Itoa(int(o.Port)))
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Bootstrap carries the resources shared by connections: name resolution and
// socket creation.
type Bootstrap struct {
	Resolver *net.Resolver
	// Dial replaces the default net.Dialer when set.
	Dial DialFunc
}

var defaultBootstrap = &Bootstrap{}

// DefaultBootstrap uses net.DefaultResolver and a net.Dialer.
func DefaultBootstrap() *Bootstrap {
	return defaultBootstrap
}

// DialContext dials with the bootstrap's dialer honoring the socket options.
func (b *Bootstrap) DialContext(ctx context.Context, socket SocketOptions, address string) (net.Conn, error) {
	if b == nil {
		b = defaultBootstrap
	}
	ctx, cancel := context.WithTimeout(ctx, socket.Timeout())
	defer cancel()
	if b.Dial != nil {
		return b.Dial(ctx, socket.Domain.Network(), address)
	}
	d := net.Dialer{
		Resolver:  b.Resolver,
		KeepAlive: socket.KeepAliveInterval,
	}
	return d.DialContext(ctx, socket.Domain.Network(), address)
}
