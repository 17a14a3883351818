package engine

import (
	"io"
)

// Header is a header field as byte views. Engines may reuse the underlying
// arrays after the callback that received them returns.
type Header struct {
	Name  []byte
	Value []byte
}

type HeaderBlock int

const (
	// HeaderBlockMain is the zero value so that unset blocks mean the response head.
	HeaderBlockMain HeaderBlock = iota
	HeaderBlockInformational
	HeaderBlockTrailing
)

func (b HeaderBlock) String() string {
	switch b {
	case HeaderBlockMain:
		return "main"
	case HeaderBlockInformational:
		return "informational"
	case HeaderBlockTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

type RequestOptions struct {
	Method  string
	Path    string
	Headers []Header
	Body    io.Reader
	// ContentLength of Body; zero or negative when unknown. Ignored without Body.
	ContentLength int64

	UserData any

	OnResponseHeaders         func(s Stream, block HeaderBlock, headers []Header, userData any) Status
	OnResponseHeaderBlockDone func(s Stream, block HeaderBlock, userData any) Status
	// OnResponseBody receives a view valid only until the callback returns.
	OnResponseBody func(s Stream, data []byte, userData any) Status
	OnComplete     func(s Stream, code ErrorCode, err error, userData any)
}
