package nethttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/http2"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

var (
	errCallbackAbort = errors.Newf("aborted by callback")
	errUnsolicited   = errors.Newf("unsolicited response received on idle HTTP/1.1 connection")
	errSwitched      = errors.Newf("connection switched protocols")
)

// ProxyError reports a CONNECT request refused by the proxy.
type ProxyError struct {
	StatusCode int
	Status     string
}

func (e *ProxyError) Error() string {
	return "proxy CONNECT failed: " + e.Status
}

// codeOf classifies err. Errors it does not recognize are CodeUnknown.
func codeOf(err error) engine.ErrorCode {
	if err == nil {
		return engine.CodeOK
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	if errors.Is(err, errCallbackAbort) {
		return engine.CodeCallbackAbort
	}
	if errors.Is(err, context.Canceled) {
		return engine.CodeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return engine.CodeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return engine.CodeHostResolution
	}
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		return engine.CodeProxyConnect
	}
	if isTLSError(err) {
		return engine.CodeTLSNegotiation
	}

	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		return engine.CodeStreamReset
	}
	var goAwayErr http2.GoAwayError
	if errors.As(err, &goAwayErr) {
		return engine.CodeConnectionClosed
	}
	var connErr http2.ConnectionError
	if errors.As(err, &connErr) {
		return engine.CodeProtocol
	}
	if errors.Is(err, errUnsolicited) || errors.Is(err, errSwitched) {
		return engine.CodeProtocol
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return engine.CodeConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return engine.CodeTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return engine.CodeConnectionClosed
	}
	return engine.CodeUnknown
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}

// codeOr returns fallback when err is not recognized.
func codeOr(err error, fallback engine.ErrorCode) engine.ErrorCode {
	if code := codeOf(err); code != engine.CodeUnknown {
		return code
	}
	return fallback
}
