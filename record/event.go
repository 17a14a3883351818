// Package record stores the engine-level events of response streams so
// that they can be replayed later.
//
// A recording starts with a format version and continues with one record per
// event. A record is a protobuf tag with bytes wire type, the payload length
// as uvarint, then the payload, which is itself protobuf wire format. The
// events of one stream are contiguous and end with a complete event.
package record

import (
	"fmt"

	"github.com/raiich/httpconn/engine"
)

type EventKind int

// Field numbers of the records.
const (
	EventHeaders   EventKind = 1
	EventBlockDone EventKind = 2
	EventBody      EventKind = 3
	EventComplete  EventKind = 4
	EventStatus    EventKind = 5
)

func (k EventKind) String() string {
	switch k {
	case EventHeaders:
		return "headers"
	case EventBlockDone:
		return "block-done"
	case EventBody:
		return "body"
	case EventComplete:
		return "complete"
	case EventStatus:
		return "status"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one callback of a stream. Only the fields of its Kind are set.
type Event struct {
	Kind    EventKind
	Block   engine.HeaderBlock
	Headers []engine.Header
	Data    []byte
	Status  int
	Code    engine.ErrorCode
	Message string
}

// Session is the events of one stream, ending with EventComplete.
type Session struct {
	Events []Event
}

// Complete returns the completion event, if recorded.
func (s *Session) Complete() (Event, bool) {
	if n := len(s.Events); n > 0 && s.Events[n-1].Kind == EventComplete {
		return s.Events[n-1], true
	}
	return Event{}, false
}

// Body concatenates the body events.
func (s *Session) Body() []byte {
	var body []byte
	for _, e := range s.Events {
		if e.Kind == EventBody {
			body = append(body, e.Data...)
		}
	}
	return body
}
