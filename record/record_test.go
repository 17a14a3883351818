package record_test

import (
	"bytes"
	"io"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/engine/replay"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/record"
)

func header(name, value string) engine.Header {
	return engine.Header{Name: []byte(name), Value: []byte(value)}
}

func earlyHintsSession() *record.Session {
	return &record.Session{Events: []record.Event{
		{Kind: record.EventStatus, Status: 103},
		{Kind: record.EventHeaders, Block: engine.HeaderBlockInformational, Headers: []engine.Header{header("Link", "</a.css>; rel=preload")}},
		{Kind: record.EventBlockDone, Block: engine.HeaderBlockInformational},
		{Kind: record.EventStatus, Status: 200},
		{Kind: record.EventHeaders, Block: engine.HeaderBlockMain, Headers: []engine.Header{header("Content-Type", "text/plain"), header("Set-Cookie", "a=1"), header("Set-Cookie", "b=2")}},
		{Kind: record.EventBlockDone, Block: engine.HeaderBlockMain},
		{Kind: record.EventBody, Data: []byte("hello, ")},
		{Kind: record.EventBody, Data: []byte("world")},
		{Kind: record.EventHeaders, Block: engine.HeaderBlockTrailing, Headers: []engine.Header{header("X-Checksum", "abc")}},
		{Kind: record.EventBlockDone, Block: engine.HeaderBlockTrailing},
		{Kind: record.EventComplete, Code: engine.CodeOK},
	}}
}

func failedSession() *record.Session {
	return &record.Session{Events: []record.Event{
		{Kind: record.EventStatus, Status: 200},
		{Kind: record.EventHeaders, Block: engine.HeaderBlockMain, Headers: []engine.Header{header("Content-Length", "100")}},
		{Kind: record.EventBlockDone, Block: engine.HeaderBlockMain},
		{Kind: record.EventBody, Data: []byte("partial")},
		{Kind: record.EventComplete, Code: engine.CodeConnectionClosed, Message: "unexpected EOF"},
	}}
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	w := record.NewWriter(&buf)
	sessions := []*record.Session{earlyHintsSession(), failedSession()}
	for _, s := range sessions {
		if err := w.WriteSession(s); err != nil {
			t.Fatalf("failed to write session: %v", err)
		}
	}
	if !bytes.HasPrefix(buf.Bytes(), record.FormatVersion1) {
		t.Fatalf("missing format version: %x", buf.Bytes()[:4])
	}

	got, err := record.ReadAll(&buf)
	if err != nil {
		t.Fatalf("failed to read sessions: %v", err)
	}
	if !reflect.DeepEqual(got, sessions) {
		t.Errorf("sessions differ:\n got %+v\nwant %+v", got, sessions)
	}
	if body := string(got[0].Body()); body != "hello, world" {
		t.Errorf("unexpected body: %q", body)
	}
	if c, ok := got[1].Complete(); !ok || c.Code != engine.CodeConnectionClosed || c.Message != "unexpected EOF" {
		t.Errorf("unexpected completion: %+v", c)
	}
}

func TestReadErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		sessions, err := record.ReadAll(bytes.NewReader(nil))
		if err != nil || len(sessions) != 0 {
			t.Errorf("unexpected result: %v, %v", sessions, err)
		}
	})
	t.Run("version", func(t *testing.T) {
		_, err := record.NewReader(bytes.NewReader([]byte{0x78, 0x02})).ReadEvent()
		if err == nil {
			t.Errorf("unsupported version should fail")
		}
	})
	t.Run("truncated session", func(t *testing.T) {
		var buf bytes.Buffer
		s := failedSession()
		s.Events = s.Events[:3]
		if err := record.NewWriter(&buf).WriteSession(s); err != nil {
			t.Fatal(err)
		}
		_, err := record.NewReader(&buf).ReadSession()
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expected unexpected EOF, got %v", err)
		}
	})
	t.Run("truncated record", func(t *testing.T) {
		var buf bytes.Buffer
		if err := record.NewWriter(&buf).WriteSession(failedSession()); err != nil {
			t.Fatal(err)
		}
		truncated := buf.Bytes()[:buf.Len()-3]
		if _, err := record.ReadAll(bytes.NewReader(truncated)); err == nil {
			t.Errorf("truncated record should fail")
		}
	})
	t.Run("corrupted length", func(t *testing.T) {
		b := bytes.Clone(record.FormatVersion1)
		b = protowire.AppendTag(b, protowire.Number(record.EventBody), protowire.BytesType)
		b = protowire.AppendVarint(b, 1<<62)
		_, err := record.NewReader(bytes.NewReader(b)).ReadEvent()
		if !errors.Is(err, record.ErrEventTooLarge) {
			t.Errorf("expected ErrEventTooLarge, got %v", err)
		}
	})
	t.Run("oversized event", func(t *testing.T) {
		e := &record.Event{Kind: record.EventBody, Data: make([]byte, record.MaxEventSize)}
		if err := record.NewWriter(io.Discard).WriteEvent(e); !errors.Is(err, record.ErrEventTooLarge) {
			t.Errorf("expected ErrEventTooLarge, got %v", err)
		}
	})
}

// Recording the replay of a session reproduces the session.
func TestRecorderReplay(t *testing.T) {
	sessions := []*record.Session{earlyHintsSession(), failedSession()}
	var buf bytes.Buffer
	rec := record.NewRecorder(&buf)
	eng := rec.Wrap(replay.New(replay.WithSessions(sessions...)))

	setup := make(chan engine.Connection, 1)
	eng.Connect(&engine.ConnectOptions{HostName: "example.test", Port: 443}, func(conn engine.Connection, code engine.ErrorCode, err error, userData any) {
		setup <- conn
	}, func(engine.Connection, engine.ErrorCode, error, any) {}, nil)

	var conn engine.Connection
	select {
	case conn = <-setup:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	if conn == nil {
		t.Fatal("setup failed")
	}
	defer conn.Release()

	for range sessions {
		done := make(chan struct{})
		_, err := conn.MakeRequest(&engine.RequestOptions{
			Method: "GET",
			Path:   "/",
			OnComplete: func(engine.Stream, engine.ErrorCode, error, any) {
				close(done)
			},
		})
		if err != nil {
			t.Fatalf("failed to make request: %v", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	if err := rec.Err(); err != nil || rec.Sessions() != 2 {
		t.Fatalf("unexpected recorder state: %d, %v", rec.Sessions(), err)
	}

	got, err := record.ReadAll(&buf)
	if err != nil {
		t.Fatalf("failed to read recording: %v", err)
	}
	if !reflect.DeepEqual(got, sessions) {
		t.Errorf("recording differs:\n got %+v\nwant %+v", got, sessions)
	}
}
