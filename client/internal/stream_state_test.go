package internal

import (
	"testing"

	"github.com/raiich/httpconn/engine"
	"github.com/raiich/httpconn/lib/errors"
)

type event struct {
	kind  string
	block engine.HeaderBlock
}

func apply(s *StreamState, e event) error {
	switch e.kind {
	case "headers":
		return s.OnHeaders(e.block)
	case "done":
		return s.OnBlockDone(e.block)
	case "body":
		return s.OnBody()
	default:
		return s.OnComplete()
	}
}

var (
	info     = engine.HeaderBlockInformational
	main     = engine.HeaderBlockMain
	trailing = engine.HeaderBlockTrailing
)

func TestStreamStateValid(t *testing.T) {
	tests := []struct {
		name   string
		events []event
	}{
		{"complete only", []event{{kind: "complete"}}},
		{"main", []event{{"headers", main}, {"done", main}, {kind: "complete"}}},
		{"batches and body", []event{{"headers", main}, {"headers", main}, {"done", main}, {kind: "body"}, {kind: "body"}, {kind: "complete"}}},
		{"informational", []event{{"headers", info}, {"done", info}, {"headers", info}, {"done", info}, {"headers", main}, {"done", main}, {kind: "complete"}}},
		{"trailers", []event{{"headers", main}, {"done", main}, {kind: "body"}, {"headers", trailing}, {"done", trailing}, {kind: "complete"}}},
		{"failure mid block", []event{{"headers", main}, {kind: "complete"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s StreamState
			for i, e := range tt.events {
				if err := apply(&s, e); err != nil {
					t.Fatalf("event %d (%v) rejected: %v", i, e, err)
				}
			}
			if !s.Completed() {
				t.Errorf("stream should be completed, phase %s", s.Phase())
			}
		})
	}
}

func TestStreamStateInvalid(t *testing.T) {
	tests := []struct {
		name   string
		events []event
	}{
		{"body before headers", []event{{kind: "body"}}},
		{"done without headers", []event{{"done", main}}},
		{"trailers first", []event{{"headers", trailing}}},
		{"block mismatch", []event{{"headers", main}, {"done", info}}},
		{"body inside block", []event{{"headers", main}, {kind: "body"}}},
		{"second main", []event{{"headers", main}, {"done", main}, {"headers", main}}},
		{"body after trailers", []event{{"headers", main}, {"done", main}, {"headers", trailing}, {"done", trailing}, {kind: "body"}}},
		{"complete twice", []event{{kind: "complete"}, {kind: "complete"}}},
		{"headers after complete", []event{{kind: "complete"}, {"headers", main}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s StreamState
			last := len(tt.events) - 1
			for i, e := range tt.events[:last] {
				if err := apply(&s, e); err != nil {
					t.Fatalf("event %d (%v) rejected: %v", i, e, err)
				}
			}
			phase := s.Phase()
			if err := apply(&s, tt.events[last]); !errors.Is(err, ErrOutOfOrder) {
				t.Fatalf("expected ErrOutOfOrder, got %v", err)
			}
			if s.Phase() != phase {
				t.Errorf("rejected event changed phase from %s to %s", phase, s.Phase())
			}
		})
	}
}
