package replay

import (
	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/record"
)

type Option interface {
	apply(settings *settings)
}

type optionFunc func(settings *settings)

func (f optionFunc) apply(settings *settings) {
	f(settings)
}

type settings struct {
	sessions      []*record.Session
	setupCode     engine.ErrorCode
	setupErr      error
	version       engine.Version
	bodyChunkSize int
}

func newSettings(opts ...Option) *settings {
	s := &settings{
		version: engine.Version1_1,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// WithSessions sets the sessions played in turn, one per request.
func WithSessions(sessions ...*record.Session) Option {
	return optionFunc(func(settings *settings) {
		settings.sessions = append(settings.sessions, sessions...)
	})
}

// WithSetupFailure makes every Connect fail with code.
func WithSetupFailure(code engine.ErrorCode, err error) Option {
	return optionFunc(func(settings *settings) {
		settings.setupCode = code
		settings.setupErr = err
	})
}

func WithVersion(v engine.Version) Option {
	return optionFunc(func(settings *settings) {
		settings.version = v
	})
}

// WithBodyChunkSize splits recorded body events into chunks of at most n bytes.
func WithBodyChunkSize(n int) Option {
	return optionFunc(func(settings *settings) {
		settings.bodyChunkSize = n
	})
}
