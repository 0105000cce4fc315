// Package multipart streams parsed form fields and uploaded files back into a
// multipart/form-data request body without buffering files in memory.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"path/filepath"
	"strings"

	"api-proxy-go/internal/model"
)

// DefaultChunkSize is the number of file bytes read per yielded chunk.
const DefaultChunkSize = 1024

const defaultFileContentType = "application/octet-stream"

var crlf = []byte("\r\n")

// ErrNotRewindable is returned by Rewind when a file source cannot seek.
var ErrNotRewindable = errors.New("multipart: file source is not seekable")

// StreamError reports a file source that failed while being encoded.
type StreamError struct {
	Field    string
	Filename string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("multipart: read file %q (field %q): %v", e.Filename, e.Field, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Option configures an Encoder.
type Option func(*Encoder)

// WithChunkSize sets the file read size. Values below 1 are ignored.
func WithChunkSize(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// Encoder produces the wire bytes of a multipart/form-data body. Scalar fields
// are emitted before files, each group in slice order.
//
// Iterating Chunks advances the read position of every file source, so a
// second pass over the same Encoder needs a Rewind first.
type Encoder struct {
	fields    []model.FormField
	files     []model.FileField
	boundary  string
	chunkSize int
}

// NewEncoder creates an Encoder for the given parts and boundary.
func NewEncoder(fields []model.FormField, files []model.FileField, boundary string, opts ...Option) *Encoder {
	e := &Encoder{
		fields:    fields,
		files:     files,
		boundary:  boundary,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Boundary returns the boundary token.
func (e *Encoder) Boundary() string {
	return e.boundary
}

// ContentType returns the request Content-Type carrying the boundary.
func (e *Encoder) ContentType() string {
	return "multipart/form-data; boundary=" + e.boundary
}

// Chunks returns the body as a pull sequence. A yielded slice is only valid
// until the next step of the iteration. A file read failure ends the sequence
// with a *StreamError; a canceled ctx ends it with ctx.Err().
func (e *Encoder) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, f := range e.fields {
			if !yield(e.partHeader(f.Name, "", ""), nil) {
				return
			}
			if !yield([]byte(f.Value+"\r\n"), nil) {
				return
			}
		}

		buf := make([]byte, e.chunkSize)
		for _, f := range e.files {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e.partHeader(f.Name, f.Filename, ContentTypeFor(f.Filename)), nil) {
				return
			}
			for {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				n, err := f.Content.Read(buf)
				if n > 0 {
					if !yield(buf[:n], nil) {
						return
					}
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					yield(nil, &StreamError{Field: f.Name, Filename: f.Filename, Err: err})
					return
				}
			}
			if !yield(crlf, nil) {
				return
			}
		}

		yield(e.footer(), nil)
	}
}

// Size returns the exact body length without reading any file, or -1 when a
// file has an unknown size.
func (e *Encoder) Size() int64 {
	var total int64
	for _, f := range e.fields {
		total += int64(len(e.partHeader(f.Name, "", ""))) + int64(len(f.Value)) + int64(len(crlf))
	}
	for _, f := range e.files {
		if f.Size < 0 {
			return -1
		}
		total += int64(len(e.partHeader(f.Name, f.Filename, ContentTypeFor(f.Filename))))
		total += f.Size + int64(len(crlf))
	}
	return total + int64(len(e.footer()))
}

// Len measures the body by consuming it once and then rewinds all file
// sources. Prefer Size with chunked transfer encoding; Len reads every file
// twice when the body is transmitted afterwards.
func (e *Encoder) Len(ctx context.Context) (int64, error) {
	var total int64
	for chunk, err := range e.Chunks(ctx) {
		if err != nil {
			return 0, err
		}
		total += int64(len(chunk))
	}
	if err := e.Rewind(); err != nil {
		return 0, err
	}
	return total, nil
}

// Rewind seeks every file source back to its start.
func (e *Encoder) Rewind() error {
	for _, f := range e.files {
		s, ok := f.Content.(io.Seeker)
		if !ok {
			return fmt.Errorf("%w: field %q", ErrNotRewindable, f.Name)
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return &StreamError{Field: f.Name, Filename: f.Filename, Err: err}
		}
	}
	return nil
}

func (e *Encoder) partHeader(name, filename, contentType string) []byte {
	var b strings.Builder
	b.WriteString("--")
	b.WriteString(e.boundary)
	b.WriteString("\r\nContent-Disposition: form-data; name=\"")
	b.WriteString(escapeQuotes(name))
	b.WriteByte('"')
	if filename != "" {
		b.WriteString("; filename=\"")
		b.WriteString(escapeQuotes(filename))
		b.WriteByte('"')
	}
	if contentType != "" {
		b.WriteString("\r\nContent-Type: ")
		b.WriteString(contentType)
	}
	b.WriteString("\r\n\r\n")
	return []byte(b.String())
}

func (e *Encoder) footer() []byte {
	return []byte("--" + e.boundary + "--\r\n")
}

var quoteEscaper = strings.NewReplacer(
	"\\", "\\\\",
	`"`, "\\\"",
	"\r", "%0D",
	"\n", "%0A",
)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// ContentTypeFor guesses a media type from the filename extension, falling
// back to application/octet-stream.
func ContentTypeFor(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return defaultFileContentType
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return defaultFileContentType
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
