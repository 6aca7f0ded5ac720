// Package coding implements the varint framing used by control and data messages.
package coding

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxStringLen bounds decoded strings so a corrupt length prefix cannot force a large allocation.
const MaxStringLen = 4096

var (
	// ErrMore is the kind of every MoreError.
	ErrMore = errors.New("insufficient capacity to make progress")

	// ErrBounds indicates a value outside the encodable range.
	ErrBounds = errors.New("value out of bounds")

	// ErrInvalidValue indicates a decoded value the protocol does not allow.
	ErrInvalidValue = errors.New("invalid value")
)

// MoreError reports that a write or decode stalled with bytes still outstanding.
type MoreError struct {
	Remaining int
}

func (e *MoreError) Error() string {
	return fmt.Sprintf("%s: %d bytes remaining", ErrMore.Error(), e.Remaining)
}

func (e *MoreError) Unwrap() error { return ErrMore }

// Encoder serializes itself into a buffer.
type Encoder interface {
	Encode(buf *bytes.Buffer) error
}

// Reader is what decoders consume: a byte-oriented stream.
type Reader interface {
	io.Reader
	io.ByteReader
}

// WriteVarInt appends v as a QUIC variable-length integer.
func WriteVarInt(buf *bytes.Buffer, v uint64) error {
	if v > quicvarint.Max {
		return fmt.Errorf("varint %d: %w", v, ErrBounds)
	}
	var scratch [8]byte
	buf.Write(quicvarint.Append(scratch[:0], v))
	return nil
}

// ReadVarInt reads a QUIC variable-length integer.
func ReadVarInt(r io.ByteReader) (uint64, error) {
	return quicvarint.Read(r)
}

// WriteString writes a length-prefixed string.
func WriteString(buf *bytes.Buffer, s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("string length %d: %w", len(s), ErrBounds)
	}
	if err := WriteVarInt(buf, uint64(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

// ReadString reads a length-prefixed string.
func ReadString(r Reader) (string, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", fmt.Errorf("string length %d: %w", n, ErrBounds)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", noEOF(err)
	}
	return string(b), nil
}

// WriteBytes writes a length-prefixed byte slice.
func WriteBytes(buf *bytes.Buffer, p []byte) error {
	if err := WriteVarInt(buf, uint64(len(p))); err != nil {
		return err
	}
	buf.Write(p)
	return nil
}

// ReadBytes reads a length-prefixed byte slice of at most limit bytes.
func ReadBytes(r Reader, limit uint64) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("payload length %d: %w", n, ErrBounds)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, noEOF(err)
	}
	return p, nil
}

// noEOF reports a stream that ended inside a value as io.ErrUnexpectedEOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
