package record

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

type byteReader interface {
	io.Reader
	io.ByteReader
}

type Reader struct {
	r           byteReader
	readVersion bool
}

func NewReader(r io.Reader) *Reader {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

// ReadEvent returns io.EOF at the end of the recording.
func (r *Reader) ReadEvent() (*Event, error) {
	if !r.readVersion {
		actual := make([]byte, len(FormatVersion1))
		if _, err := io.ReadFull(r.r, actual); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, errors.Wrapf(err, "failed to read format version")
		}
		if !bytes.Equal(actual, FormatVersion1) {
			return nil, errors.Newf("unsupported format version: %v", actual)
		}
		r.readVersion = true
	}

	tag, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to read tag")
	}
	n, typ := protowire.DecodeTag(tag)
	if typ != protowire.BytesType {
		return nil, errors.Newf("unsupported wire type: %v", typ)
	}
	l, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read length")
	}
	if l > MaxEventSize {
		return nil, errors.Wrapf(ErrEventTooLarge, "%s event of %d bytes", EventKind(n), l)
	}
	payload := make([]byte, l)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, errors.Wrapf(err, "failed to read payload")
	}
	e := &Event{Kind: EventKind(n)}
	if err := unmarshalEvent(e, payload); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s event", e.Kind)
	}
	return e, nil
}

// ReadSession returns the events up to and including the next complete
// event. It returns io.EOF when no event is left, and io.ErrUnexpectedEOF
// when the recording ends inside a session.
func (r *Reader) ReadSession() (*Session, error) {
	s := &Session{}
	for {
		e, err := r.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) && len(s.Events) > 0 {
				return s, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		s.Events = append(s.Events, *e)
		if e.Kind == EventComplete {
			return s, nil
		}
	}
}

// ReadAll reads every session of r.
func ReadAll(r io.Reader) ([]*Session, error) {
	reader := NewReader(r)
	var sessions []*Session
	for {
		s, err := reader.ReadSession()
		if errors.Is(err, io.EOF) {
			return sessions, nil
		}
		if err != nil {
			return sessions, err
		}
		sessions = append(sessions, s)
	}
}

func unmarshalEvent(e *Event, b []byte) error {
	if e.Kind < EventHeaders || e.Kind > EventStatus {
		return errors.Newf("unexpected field: %v", int(e.Kind))
	}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case typ == protowire.VarintType && num == fieldBlock && (e.Kind == EventHeaders || e.Kind == EventBlockDone):
			e.Block = engine.HeaderBlock(v)
		case typ == protowire.BytesType && num == fieldHeader && e.Kind == EventHeaders:
			var h engine.Header
			err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, _ uint64, raw []byte) error {
				switch {
				case typ == protowire.BytesType && num == fieldHeaderName:
					h.Name = raw
				case typ == protowire.BytesType && num == fieldHeaderValue:
					h.Value = raw
				}
				return nil
			})
			if err != nil {
				return err
			}
			e.Headers = append(e.Headers, h)
		case typ == protowire.BytesType && num == fieldData && e.Kind == EventBody:
			e.Data = raw
		case typ == protowire.VarintType && num == fieldStatus && e.Kind == EventStatus:
			e.Status = int(v)
		case typ == protowire.VarintType && num == fieldCode && e.Kind == EventComplete:
			e.Code = engine.ErrorCode(v)
		case typ == protowire.BytesType && num == fieldMessage && e.Kind == EventComplete:
			e.Message = string(raw)
		}
		return nil
	})
}

// consumeFields calls f for each varint or bytes field of b. Other wire
// types are skipped.
func consumeFields(b []byte, f func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := f(num, typ, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := f(num, typ, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
