package record

import (
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raiich/httpconn/lib/errors"
)

const formatVersionField protowire.Number = 15

// MaxEventSize bounds the payload of one record.
const MaxEventSize = 16 << 20

var ErrEventTooLarge = errors.Newf("event too large")

var (
	formatVersionTag = protowire.AppendTag(nil, formatVersionField, protowire.VarintType)
	FormatVersion1   = protowire.AppendVarint(formatVersionTag, 1)
)

// Writer is not safe for concurrent use.
type Writer struct {
	w            io.Writer
	wroteVersion bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteSession(s *Session) error {
	for i := range s.Events {
		if err := w.WriteEvent(&s.Events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteEvent(e *Event) error {
	if !w.wroteVersion {
		if err := w.writeFull(FormatVersion1); err != nil {
			return errors.Wrapf(err, "failed to write format version: %v", FormatVersion1)
		}
		w.wroteVersion = true
	}
	payload, err := marshalEvent(e)
	if err != nil {
		return err
	}
	if len(payload) > MaxEventSize {
		return errors.Wrapf(ErrEventTooLarge, "%s event of %d bytes", e.Kind, len(payload))
	}
	b := protowire.AppendTag(nil, protowire.Number(e.Kind), protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	if err := w.writeFull(b); err != nil {
		return errors.Wrapf(err, "failed to write %s event", e.Kind)
	}
	return nil
}

func (w *Writer) writeFull(data []byte) error {
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write data")
	}
	return nil
}

// Payload fields.
const (
	fieldBlock   protowire.Number = 1
	fieldHeader  protowire.Number = 2
	fieldData    protowire.Number = 1
	fieldStatus  protowire.Number = 1
	fieldCode    protowire.Number = 1
	fieldMessage protowire.Number = 2

	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

func marshalEvent(e *Event) ([]byte, error) {
	var b []byte
	switch e.Kind {
	case EventHeaders:
		b = protowire.AppendTag(b, fieldBlock, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Block))
		for _, h := range e.Headers {
			var field []byte
			field = protowire.AppendTag(field, fieldHeaderName, protowire.BytesType)
			field = protowire.AppendBytes(field, h.Name)
			field = protowire.AppendTag(field, fieldHeaderValue, protowire.BytesType)
			field = protowire.AppendBytes(field, h.Value)
			b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
			b = protowire.AppendBytes(b, field)
		}
	case EventBlockDone:
		b = protowire.AppendTag(b, fieldBlock, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Block))
	case EventBody:
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Data)
	case EventStatus:
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Status))
	case EventComplete:
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Code))
		if e.Message != "" {
			b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
			b = protowire.AppendString(b, e.Message)
		}
	default:
		return nil, errors.Newf("unsupported event kind: %v", e.Kind)
	}
	return b, nil
}
