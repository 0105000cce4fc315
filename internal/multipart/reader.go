package multipart

import (
	"io"
	"iter"
	"sync"
)

// chunkReader adapts a pull sequence of chunks to io.Reader.
type chunkReader struct {
	mu      sync.Mutex
	next    func() ([]byte, error, bool)
	stop    func()
	pending []byte
	err     error
}

// NewReader returns a reader over seq. The sequence is pulled one chunk at a
// time as Read is called; Close stops it early and releases the producer.
// Read and Close may be called from different goroutines, as http.Transport
// does with request bodies.
func NewReader(seq iter.Seq2[[]byte, error]) io.ReadCloser {
	next, stop := iter.Pull2(seq)
	return &chunkReader{next: next, stop: stop}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err, ok := r.next()
		switch {
		case !ok:
			r.err = io.EOF
		case err != nil:
			r.err = err
			r.stop()
		default:
			r.pending = chunk
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stop()
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	r.pending = nil
	return nil
}
