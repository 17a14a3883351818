package client

import (
	"net"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

// hostToASCII converts a host name to the form the engine dials. IP
// literals pass through.
func hostToASCII(host string) (string, error) {
	if host == "" {
		return "", errors.Newf("empty host name")
	}
	if trimmed := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"); net.ParseIP(trimmed) != nil {
		return trimmed, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", errors.Wrapf(err, "invalid host name %q", host)
	}
	return ascii, nil
}

// headersFromEngine copies engine views; the result outlives the callback.
func headersFromEngine(views []engine.Header) Headers {
	headers := make(Headers, 0, len(views))
	for _, v := range views {
		headers = append(headers, Header{Name: string(v.Name), Value: string(v.Value)})
	}
	return headers
}

func headersToEngine(headers Headers) []engine.Header {
	views := make([]engine.Header, 0, len(headers))
	for _, h := range headers {
		views = append(views, engine.Header{Name: []byte(h.Name), Value: []byte(h.Value)})
	}
	return views
}

func validateHeaders(headers Headers) error {
	for _, h := range headers {
		name := strings.TrimPrefix(h.Name, ":")
		if !httpguts.ValidHeaderFieldName(name) {
			return errors.Newf("invalid header name %q", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return errors.Newf("invalid value for header %q", h.Name)
		}
	}
	return nil
}

func validMethod(method string) bool {
	return method != "" && strings.IndexFunc(method, func(r rune) bool {
		return !httpguts.IsTokenRune(r)
	}) < 0
}
