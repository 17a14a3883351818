package nethttp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

// stream carries one request. Its response callbacks are invoked by a single
// goroutine at a time.
type stream struct {
	id      uint64
	conn    *connBase
	opts    engine.RequestOptions
	req     *http.Request
	cancel  context.CancelFunc
	bufSize int

	status    atomic.Int64
	completed atomic.Bool
	released  atomic.Bool
	canceled  atomic.Bool
	// responded is closed once the response has been consumed (HTTP/1.1).
	responded chan struct{}
}

var _ engine.Stream = (*stream)(nil)

func (s *stream) ID() uint64 {
	return s.id
}

func (s *stream) ResponseStatus() int {
	return int(s.status.Load())
}

func (s *stream) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if !s.completed.Load() {
		s.canceled.Store(true)
		s.cancel()
	}
}

func (s *stream) complete(code engine.ErrorCode, err error) {
	if !s.completed.CompareAndSwap(false, true) {
		return
	}
	if code != engine.CodeOK && s.canceled.Load() {
		code, err = engine.CodeCanceled, context.Canceled
	}
	s.conn.logger.Debug("stream complete", "conn", s.conn.id, "stream", s.id, "code", code, "error", err)
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(s, code, err, s.opts.UserData)
	}
}

// deliverBlock reports one header block: a single batch followed by done.
// It returns errCallbackAbort when a callback asked to abort.
func (s *stream) deliverBlock(block engine.HeaderBlock, header http.Header) error {
	if s.opts.OnResponseHeaders != nil {
		if st := s.opts.OnResponseHeaders(s, block, toHeaders(header), s.opts.UserData); st != engine.StatusContinue {
			return errCallbackAbort
		}
	}
	if s.opts.OnResponseHeaderBlockDone != nil {
		if st := s.opts.OnResponseHeaderBlockDone(s, block, s.opts.UserData); st != engine.StatusContinue {
			return errCallbackAbort
		}
	}
	return nil
}

func (s *stream) deliverInformational(statusCode int, header http.Header) error {
	s.status.Store(int64(statusCode))
	return s.deliverBlock(engine.HeaderBlockInformational, header)
}

// deliverResponse reports the main block, the body in chunks of at most
// bufSize bytes, then the trailers if any were received.
func (s *stream) deliverResponse(resp *http.Response) error {
	s.status.Store(int64(resp.StatusCode))
	if err := s.deliverBlock(engine.HeaderBlockMain, resp.Header); err != nil {
		return err
	}

	buf := make([]byte, s.bufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 && s.opts.OnResponseBody != nil {
			if st := s.opts.OnResponseBody(s, buf[:n], s.opts.UserData); st != engine.StatusContinue {
				return errCallbackAbort
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read body of stream %d", s.id)
		}
	}

	if trailer := receivedTrailer(resp.Trailer); len(trailer) > 0 {
		if err := s.deliverBlock(engine.HeaderBlockTrailing, trailer); err != nil {
			return err
		}
	}
	return nil
}

// receivedTrailer drops trailers that were announced but never sent.
func receivedTrailer(trailer http.Header) http.Header {
	var received http.Header
	for k, vv := range trailer {
		if len(vv) == 0 {
			continue
		}
		if received == nil {
			received = make(http.Header, len(trailer))
		}
		received[k] = vv
	}
	return received
}

// toHeaders flattens h with names sorted and values in received order.
func toHeaders(h http.Header) []engine.Header {
	names := make([]string, 0, len(h))
	n := 0
	for name, vv := range h {
		names = append(names, name)
		n += len(vv)
	}
	sort.Strings(names)
	headers := make([]engine.Header, 0, n)
	for _, name := range names {
		for _, v := range h[name] {
			headers = append(headers, engine.Header{Name: []byte(name), Value: []byte(v)})
		}
	}
	return headers
}

func newRequest(ctx context.Context, opts *engine.RequestOptions, scheme, authority string) (*http.Request, error) {
	if opts.Method == "" {
		return nil, errors.Newf("empty method")
	}
	path := opts.Path
	if path == "" {
		path = "/"
	}
	ru, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid path %q", path)
	}
	u := &url.URL{
		Scheme:   scheme,
		Host:     authority,
		Path:     ru.Path,
		RawPath:  ru.RawPath,
		RawQuery: ru.RawQuery,
	}

	var body io.ReadCloser
	if opts.Body != nil {
		body = io.NopCloser(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request")
	}
	if body != nil && opts.ContentLength > 0 {
		req.ContentLength = opts.ContentLength
	}
	for _, h := range opts.Headers {
		name, value := string(h.Name), string(h.Value)
		switch {
		case strings.EqualFold(name, "host") || name == ":authority":
			req.Host = value
		case strings.HasPrefix(name, ":"):
			// other pseudo-headers are derived from the request line
		default:
			req.Header.Add(name, value)
		}
	}
	return req, nil
}
