// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/url"
)

// FormField is a scalar name/value form field.
type FormField struct {
	Name  string
	Value string
}

// FileField is an uploaded file to be re-encoded into a multipart body.
type FileField struct {
	Name     string
	Filename string
	// Size is the length of Content in bytes, or -1 when unknown.
	Size    int64
	Content io.Reader
}

// InboundRequest is the already-parsed client request handed to the proxy.
type InboundRequest struct {
	Method string
	// Path is in escaped form, relative to the route prefix.
	Path    string
	Query   url.Values
	Header  http.Header
	Cookies map[string]string
	Fields  []FormField
	Files   []FileField
	RawBody []byte
}

// BodyKind selects how an OutboundBody is framed on the wire.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyForm
	BodyMultipart
	BodyRaw
)

func (k BodyKind) String() string {
	switch k {
	case BodyForm:
		return "form"
	case BodyMultipart:
		return "multipart"
	case BodyRaw:
		return "raw"
	default:
		return "none"
	}
}

// ChunkStream is a lazily encoded request body.
type ChunkStream interface {
	// Chunks yields the body in order. It may be consumed once per Rewind.
	Chunks(ctx context.Context) iter.Seq2[[]byte, error]
	// Size returns the total body length, or -1 when it is not known upfront.
	Size() int64
	// Rewind resets every underlying source to its start.
	Rewind() error
}

// OutboundBody is the body of an OutboundRequest. Only the field matching
// Kind is set.
type OutboundBody struct {
	Kind   BodyKind
	Fields []FormField
	Stream ChunkStream
	Raw    []byte
}

// OutboundRequest is the fully assembled request to send upstream.
type OutboundRequest struct {
	Method string
	// URL is in escaped form; parsing it restores Path and RawPath.
	URL     string
	Header  http.Header
	Query   url.Values
	Cookies map[string]string
	Body    OutboundBody
}

// UpstreamResponse is the raw response received from the upstream.
type UpstreamResponse struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        io.ReadCloser
}

// Response describes what the proxy sends back to the client. Exactly one of
// Body (verbatim bytes) or Data (structured value) is set; both nil means an
// empty body.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        io.ReadCloser
	Data        any
}

// ErrorEnvelope is the normalized error body used when raw error
// passthrough is disabled.
type ErrorEnvelope struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}
