package nethttp

import (
	"time"

	ilog "github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/log"
)

const (
	defaultShutdownGracePeriod = 5 * time.Second
	defaultBodyBufferSize      = 16 << 10
	minBodyBufferSize          = 1 << 10
	maxBodyBufferSize          = 1 << 20
	defaultRequestQueueSize    = 64
)

type Option interface {
	apply(settings *settings)
}

type optionFunc func(settings *settings)

func (f optionFunc) apply(settings *settings) {
	f(settings)
}

type settings struct {
	logger              log.Logger
	shutdownGracePeriod time.Duration
	readIdleTimeout     time.Duration
	pingTimeout         time.Duration
	requestQueueSize    int
}

func newSettings(opts ...Option) *settings {
	s := &settings{
		logger:              ilog.Default(),
		shutdownGracePeriod: defaultShutdownGracePeriod,
		requestQueueSize:    defaultRequestQueueSize,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

func WithLogger(logger log.Logger) Option {
	return optionFunc(func(settings *settings) {
		settings.logger = logger
	})
}

// WithShutdownGracePeriod bounds how long Close waits for active HTTP/2
// streams before the connection is closed forcibly.
func WithShutdownGracePeriod(d time.Duration) Option {
	return optionFunc(func(settings *settings) {
		settings.shutdownGracePeriod = d
	})
}

// WithReadIdleTimeout enables HTTP/2 health checks with PING frames after
// the connection has been idle for d.
func WithReadIdleTimeout(d time.Duration) Option {
	return optionFunc(func(settings *settings) {
		settings.readIdleTimeout = d
	})
}

func WithPingTimeout(d time.Duration) Option {
	return optionFunc(func(settings *settings) {
		settings.pingTimeout = d
	})
}

// WithRequestQueueSize sets how many HTTP/1.1 requests may wait for the
// connection.
func WithRequestQueueSize(n int) Option {
	return optionFunc(func(settings *settings) {
		settings.requestQueueSize = n
	})
}

func bodyBufferSize(initialWindowSize uint64) int {
	switch {
	case initialWindowSize == 0:
		return defaultBodyBufferSize
	case initialWindowSize < minBodyBufferSize:
		return minBodyBufferSize
	case initialWindowSize > maxBodyBufferSize:
		return maxBodyBufferSize
	default:
		return int(initialWindowSize)
	}
}
