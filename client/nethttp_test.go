package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/engine/nethttp"
	"github.com/raiich/httpconn/lib/errors"
)

const pageBody = "<html>hello</html>"

// redirectTo dials addr whatever address is asked for.
func redirectTo(addr string) *engine.Bootstrap {
	return &engine.Bootstrap{
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

func TestFetchOverTLS(t *testing.T) {
	for _, h2 := range []bool{false, true} {
		t.Run(fmt.Sprintf("h2=%v", h2), func(t *testing.T) {
			ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Header().Set("Content-Length", fmt.Sprint(len(pageBody)))
				w.Header().Set("X-Host", r.Host)
				_, _ = w.Write([]byte(pageBody))
			}))
			ts.EnableHTTP2 = h2
			ts.StartTLS()
			defer ts.Close()

			pool := x509.NewCertPool()
			pool.AddCert(ts.Certificate())
			ev := newConnEvents()
			opts := ev.options("example.test", 443)
			opts.Bootstrap = redirectTo(ts.Listener.Addr().String())
			opts.TLSOptions = &engine.TLSOptions{
				Config: &tls.Config{RootCAs: pool, ServerName: "example.com"},
			}
			if err := Connect(nethttp.New(), opts); err != nil {
				t.Fatal(err)
			}
			r := waitFor(t, ev.setup)
			if r.err != nil {
				t.Fatalf("setup failed: %v", r.err)
			}
			conn := r.conn
			defer conn.Release()
			expectedVersion := engine.Version1_1
			if h2 {
				expectedVersion = engine.Version2
			}
			if conn.Version() != expectedVersion {
				t.Errorf("unexpected version: %v", conn.Version())
			}

			var l streamLog
			s, err := conn.NewStream(l.options())
			if err != nil {
				t.Fatal(err)
			}
			defer s.Release()
			l.wait(t)

			if l.err != nil {
				t.Fatalf("stream failed: %v", l.err)
			}
			var mainBlocks, bodies int
			for _, e := range l.events {
				switch {
				case e == "done:main":
					mainBlocks++
				case e == "body":
					bodies++
				case strings.HasPrefix(e, "done:"):
					t.Errorf("unexpected block: %s", e)
				}
			}
			if mainBlocks != 1 || bodies == 0 {
				t.Errorf("unexpected events: %q", l.events)
			}
			if string(l.body) != pageBody {
				t.Errorf("unexpected body: %q", l.body)
			}
			main := s.Headers(HeaderBlockMain)
			if main.Get("content-length") != fmt.Sprint(len(pageBody)) {
				t.Errorf("unexpected content length: %q", main.Get("content-length"))
			}
			if main.Get("x-host") != "example.test" {
				t.Errorf("unexpected host: %q", main.Get("x-host"))
			}
			if s.ResponseStatus() != http.StatusOK {
				t.Errorf("unexpected status: %d", s.ResponseStatus())
			}

			conn.Close()
			if sd := waitFor(t, ev.shutdown); sd.err != nil {
				t.Errorf("unexpected shutdown error: %v", sd.err)
			}
		})
	}
}

func TestConnectUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	ev := newConnEvents()
	if err := Connect(nethttp.New(), ev.options("127.0.0.1", uint16(port))); err != nil {
		t.Fatal(err)
	}
	r := waitFor(t, ev.setup)
	if r.conn != nil {
		r.conn.Release()
		t.Fatalf("unexpected connection")
	}
	var cerr *Error
	if !errors.As(r.err, &cerr) || cerr.Kind != KindConnectionSetup || cerr.Code == engine.CodeOK {
		t.Errorf("unexpected error: %v", r.err)
	}
	expectNone(t, ev.shutdown, "shutdown after failed setup")
}
