package session

import (
	"bytes"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gezibash/moq-relay/internal/coding"
)

// SendStream is the write half of a transport stream.
type SendStream interface {
	io.Writer
	Close() error
}

// Writer encodes messages onto a send stream. It is not safe for concurrent use.
type Writer struct {
	stream  SendStream
	buffer  bytes.Buffer
	counter prometheus.Counter

	finishOnce sync.Once
	finishErr  error
}

// NewWriter wraps a send stream.
func NewWriter(stream SendStream) *Writer {
	return &Writer{stream: stream}
}

// CountBytes adds every byte accepted by the transport to c.
func (w *Writer) CountBytes(c prometheus.Counter) *Writer {
	w.counter = c
	return w
}

// Encode serializes msg into the reusable buffer and writes all of it.
// Encoding errors are returned unchanged; transport errors as *WriteError.
func (w *Writer) Encode(msg coding.Encoder) error {
	w.buffer.Reset()
	if err := msg.Encode(&w.buffer); err != nil {
		return err
	}
	return w.writeAll(w.buffer.Bytes())
}

// Write writes all of p.
func (w *Writer) Write(p []byte) error {
	return w.writeAll(p)
}

// writeAll loops until p is consumed. A write that accepts nothing without
// failing reports *coding.MoreError rather than spinning.
func (w *Writer) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := w.stream.Write(p)
		if n > 0 {
			p = p[n:]
			if w.counter != nil {
				w.counter.Add(float64(n))
			}
		}
		if err != nil {
			return &WriteError{Err: err}
		}
		if n == 0 {
			return &coding.MoreError{Remaining: len(p)}
		}
	}
	return nil
}

// Finish closes the stream, signalling the end of data. It is safe to call
// more than once; later calls return the first result.
func (w *Writer) Finish() error {
	w.finishOnce.Do(func() {
		if err := w.stream.Close(); err != nil {
			w.finishErr = &WriteError{Err: err}
		}
	})
	return w.finishErr
}
