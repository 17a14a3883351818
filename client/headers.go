package client

import (
	"strings"

	"github.com/raiich/httpconn/engine"
)

type HeaderBlock = engine.HeaderBlock

const (
	HeaderBlockInformational = engine.HeaderBlockInformational
	HeaderBlockMain          = engine.HeaderBlockMain
	HeaderBlockTrailing      = engine.HeaderBlockTrailing
)

type Header struct {
	Name  string
	Value string
}

// Headers keeps fields in insertion order, duplicates included.
type Headers []Header

func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Get returns the first value of name, compared case-insensitively.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return append(Headers(nil), h...)
}
