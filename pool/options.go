package pool

import (
	"context"
	"time"

	"github.com/raiich/httpconn/client"
)

const (
	DefaultMaxConnections = 4
	DefaultIdleTimeout    = 90 * time.Second
)

type Option interface {
	apply(settings *settings)
}

type optionFunc func(settings *settings)

func (f optionFunc) apply(settings *settings) {
	f(settings)
}

type settings struct {
	ctx            context.Context
	maxConnections int
	idleTimeout    time.Duration
	connection     client.ConnectionOptions
}

func newSettings(opts ...Option) *settings {
	s := &settings{
		ctx:            context.Background(),
		maxConnections: DefaultMaxConnections,
		idleTimeout:    DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// WithContext sets the parent context of the endpoint dispatchers.
func WithContext(ctx context.Context) Option {
	return optionFunc(func(settings *settings) {
		settings.ctx = ctx
	})
}

// WithMaxConnections limits the connections per endpoint, in use, idle or
// connecting. Values below 1 mean 1.
func WithMaxConnections(n int) Option {
	return optionFunc(func(settings *settings) {
		settings.maxConnections = max(n, 1)
	})
}

// WithIdleTimeout sets how long an unused connection is kept open.
func WithIdleTimeout(d time.Duration) Option {
	return optionFunc(func(settings *settings) {
		settings.idleTimeout = d
	})
}

// WithConnectionOptions sets the template for new connections. HostName,
// Port and the setup and shutdown callbacks are set by the pool.
func WithConnectionOptions(opts client.ConnectionOptions) Option {
	return optionFunc(func(settings *settings) {
		settings.connection = opts
	})
}
