package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/moq-relay/internal/coding"
)

// chunkedStream accepts at most chunks[i] bytes on the i-th write.
type chunkedStream struct {
	chunks  []int
	writes  int
	data    bytes.Buffer
	err     error
	closed  int
	closeFn func() error
}

func (s *chunkedStream) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n := len(p)
	if s.writes < len(s.chunks) && s.chunks[s.writes] < n {
		n = s.chunks[s.writes]
	}
	s.writes++
	s.data.Write(p[:n])
	return n, nil
}

func (s *chunkedStream) Close() error {
	s.closed++
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// payload encodes a fixed byte slice.
type payload []byte

func (p payload) Encode(buf *bytes.Buffer) error {
	buf.Write(p)
	return nil
}

type failingEncoder struct{ err error }

func (f failingEncoder) Encode(*bytes.Buffer) error { return f.err }

func TestEncodeDecreasingChunks(t *testing.T) {
	msg := bytes.Repeat([]byte{0xab}, 100)
	stream := &chunkedStream{chunks: []int{50, 30, 20}}
	w := NewWriter(stream)

	if err := w.Encode(payload(msg)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if stream.writes != 3 {
		t.Errorf("writes = %d, want 3", stream.writes)
	}
	if !bytes.Equal(stream.data.Bytes(), msg) {
		t.Fatalf("stream received %d bytes, want all 100", stream.data.Len())
	}
}

func TestEncodeZeroWrite(t *testing.T) {
	stream := &chunkedStream{chunks: []int{40, 0}}
	w := NewWriter(stream)

	err := w.Encode(payload(bytes.Repeat([]byte{1}, 100)))
	if !errors.Is(err, coding.ErrMore) {
		t.Fatalf("expected ErrMore, got %v", err)
	}
	var more *coding.MoreError
	if !errors.As(err, &more) || more.Remaining != 60 {
		t.Fatalf("expected 60 bytes remaining, got %v", err)
	}
	if stream.writes != 2 {
		t.Errorf("writes = %d, want 2", stream.writes)
	}
}

func TestEncodeTransportError(t *testing.T) {
	reset := errors.New("stream reset")
	w := NewWriter(&chunkedStream{err: reset})

	err := w.Encode(payload("hello"))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriteError, got %T %v", err, err)
	}
	if !errors.Is(err, reset) {
		t.Fatal("WriteError should unwrap to the transport error")
	}
}

func TestEncodeErrorIsLocal(t *testing.T) {
	stream := &chunkedStream{}
	w := NewWriter(stream)

	err := w.Encode(failingEncoder{err: coding.ErrBounds})
	if !errors.Is(err, coding.ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
	var we *WriteError
	if errors.As(err, &we) {
		t.Fatal("encode failure must not be reported as a transport error")
	}
	if stream.writes != 0 {
		t.Fatalf("nothing should be written, got %d writes", stream.writes)
	}
}

func TestEncodeReusesBuffer(t *testing.T) {
	stream := &chunkedStream{}
	w := NewWriter(stream)

	_ = w.Encode(payload("first"))
	_ = w.Encode(payload("second"))
	if got := stream.data.String(); got != "firstsecond" {
		t.Fatalf("stream = %q", got)
	}
}

func TestFinishIdempotent(t *testing.T) {
	closeErr := errors.New("already reset")
	stream := &chunkedStream{closeFn: func() error { return closeErr }}
	w := NewWriter(stream)

	err := w.Finish()
	if !errors.Is(err, closeErr) {
		t.Fatalf("Finish: %v", err)
	}
	if err2 := w.Finish(); err2 != err {
		t.Fatalf("second Finish = %v, want %v", err2, err)
	}
	if stream.closed != 1 {
		t.Fatalf("Close called %d times, want 1", stream.closed)
	}
}

func TestCountBytes(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_bytes_total"})
	w := NewWriter(&chunkedStream{chunks: []int{3}}).CountBytes(counter)

	if err := w.Write([]byte("12345678")); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(counter); got != 8 {
		t.Fatalf("counter = %v, want 8", got)
	}
}
