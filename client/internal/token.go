// Package internal holds the lifetime and ordering machinery of the client
// package.
package internal

import (
	"sync/atomic"

	"github.com/raiich/httpconn/internal/log"
	"github.com/raiich/httpconn/lib/errors"
)

var (
	ErrOverRelease = errors.Newf("token released more times than it was retained")
	ErrRetired     = errors.Newf("token already retired")
)

var overReleases atomic.Int64

// OverReleases counts refused releases since the process started.
func OverReleases() int64 {
	return overReleases.Load()
}

// Token is a reference count shared between callers and engine callbacks.
// Its release function runs exactly once, when the last reference is dropped.
// A retired token cannot be retained again.
type Token struct {
	name    string
	refs    atomic.Int64
	release func()
}

func NewToken(name string, refs int64, release func()) *Token {
	t := &Token{
		name:    name,
		release: release,
	}
	t.refs.Store(refs)
	return t
}

func (t *Token) Retain() error {
	for {
		n := t.refs.Load()
		if n <= 0 {
			return errors.Wrapf(ErrRetired, "retain %s", t.name)
		}
		if t.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference. Releasing a retired token is refused and
// logged; the release function is not called again.
func (t *Token) Release() error {
	for {
		n := t.refs.Load()
		if n <= 0 {
			overReleases.Add(1)
			log.Warn("refused to release retired token", "token", t.name)
			return errors.Wrapf(ErrOverRelease, "release %s", t.name)
		}
		if t.refs.CompareAndSwap(n, n-1) {
			if n == 1 && t.release != nil {
				t.release()
			}
			return nil
		}
	}
}

func (t *Token) Refs() int64 {
	return t.refs.Load()
}

func (t *Token) Retired() bool {
	return t.refs.Load() <= 0
}
