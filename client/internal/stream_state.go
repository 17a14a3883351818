package internal

import (
	"fmt"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
	"github.com/raiich/httpconn/lib/state"
)

var ErrOutOfOrder = errors.Newf("stream event out of order")

// StreamState validates the order of the engine events of one stream:
// informational blocks, the main block, body chunks, an optional trailing
// block, then completion. Each block is one or more header batches followed
// by its done event. The zero value awaits the first header block.
// StreamState is not synchronized; the engine serializes events per stream.
type StreamState struct {
	state state.CurrentState[streamPhase]
}

func (s *StreamState) OnHeaders(block engine.HeaderBlock) error {
	return s.transit(s.phase().headers(block), "headers", block)
}

func (s *StreamState) OnBlockDone(block engine.HeaderBlock) error {
	return s.transit(s.phase().blockDone(block), "block done", block)
}

func (s *StreamState) OnBody() error {
	return s.transit(s.phase().body(), "body", nil)
}

func (s *StreamState) OnComplete() error {
	return s.transit(s.phase().complete(), "complete", nil)
}

func (s *StreamState) Completed() bool {
	_, ok := s.phase().(completed)
	return ok
}

// Phase names the current phase.
func (s *StreamState) Phase() string {
	return state.Name(s.phase())
}

func (s *StreamState) phase() streamPhase {
	if p := s.state.Get(); p != nil {
		return p
	}
	return awaitingHeaders{}
}

func (s *StreamState) transit(next streamPhase, event string, block any) error {
	if next == nil {
		if block != nil {
			event = fmt.Sprintf("%s(%v)", event, block)
		}
		return errors.Wrapf(ErrOutOfOrder, "%s in phase %s", event, s.Phase())
	}
	s.state.Set(next)
	return nil
}

// streamPhase returns the next phase for an event, or nil when the event is
// not allowed.
type streamPhase interface {
	headers(block engine.HeaderBlock) streamPhase
	blockDone(block engine.HeaderBlock) streamPhase
	body() streamPhase
	complete() streamPhase
}

type awaitingHeaders struct{}

func (awaitingHeaders) String() string { return "awaiting-headers" }

func (awaitingHeaders) headers(block engine.HeaderBlock) streamPhase {
	if block == engine.HeaderBlockTrailing {
		return nil
	}
	return inBlock{block: block}
}

func (awaitingHeaders) blockDone(engine.HeaderBlock) streamPhase { return nil }
func (awaitingHeaders) body() streamPhase                        { return nil }
func (awaitingHeaders) complete() streamPhase                    { return completed{} }

type inBlock struct {
	block engine.HeaderBlock
}

func (p inBlock) String() string { return "in-block(" + p.block.String() + ")" }

func (p inBlock) headers(block engine.HeaderBlock) streamPhase {
	if block != p.block {
		return nil
	}
	return p
}

func (p inBlock) blockDone(block engine.HeaderBlock) streamPhase {
	if block != p.block {
		return nil
	}
	switch block {
	case engine.HeaderBlockInformational:
		return awaitingHeaders{}
	case engine.HeaderBlockMain:
		return receivingBody{}
	default:
		return trailersDone{}
	}
}

func (inBlock) body() streamPhase     { return nil }
func (inBlock) complete() streamPhase { return completed{} }

type receivingBody struct{}

func (receivingBody) String() string { return "body" }

func (receivingBody) headers(block engine.HeaderBlock) streamPhase {
	if block != engine.HeaderBlockTrailing {
		return nil
	}
	return inBlock{block: block}
}

func (receivingBody) blockDone(engine.HeaderBlock) streamPhase { return nil }
func (p receivingBody) body() streamPhase                      { return p }
func (receivingBody) complete() streamPhase                    { return completed{} }

type trailersDone struct{}

func (trailersDone) String() string { return "trailers-done" }

func (trailersDone) headers(engine.HeaderBlock) streamPhase   { return nil }
func (trailersDone) blockDone(engine.HeaderBlock) streamPhase { return nil }
func (trailersDone) body() streamPhase                        { return nil }
func (trailersDone) complete() streamPhase                    { return completed{} }

type completed struct{}

func (completed) String() string { return "completed" }

func (completed) headers(engine.HeaderBlock) streamPhase   { return nil }
func (completed) blockDone(engine.HeaderBlock) streamPhase { return nil }
func (completed) body() streamPhase                        { return nil }
func (completed) complete() streamPhase                    { return nil }
