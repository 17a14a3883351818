package nethttp

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

// dialProxy opens a tunnel to target through the HTTP proxy with CONNECT.
func dialProxy(ctx context.Context, opts *engine.ConnectOptions, target string) (net.Conn, error) {
	proxy := opts.Proxy
	if !httpguts.ValidHostHeader(target) {
		return nil, engine.NewError(engine.CodeInvalidArgument, errors.Newf("invalid CONNECT target %q", target))
	}
	conn, err := opts.Bootstrap.DialContext(ctx, opts.Socket, proxy.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial proxy %s", proxy.Address())
	}
	if proxy.TLS != nil {
		tlsConn, err := handshake(ctx, conn, proxy.TLS, proxy.HostName, []string{"http/1.1"})
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	if err := connect(ctx, conn, proxy, target); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func connect(ctx context.Context, conn net.Conn, proxy *engine.ProxyOptions, target string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(engine.DefaultConnectTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if proxy.Username != "" || proxy.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+auth)
	}
	if err := req.Write(conn); err != nil {
		return errors.Wrapf(err, "failed to write CONNECT request")
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return engine.NewError(engine.CodeProxyConnect, errors.Wrapf(err, "failed to read CONNECT response"))
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ProxyError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if br.Buffered() > 0 {
		return engine.NewError(engine.CodeProxyConnect, errors.Newf("unexpected data after CONNECT response"))
	}
	return conn.SetDeadline(time.Time{})
}
