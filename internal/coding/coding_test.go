package coding

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func TestVarIntBoundaries(t *testing.T) {
	for _, v := range []uint64{0, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, quicvarint.Max} {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		if buf.Len() != quicvarint.Len(v) {
			t.Errorf("WriteVarInt(%d) wrote %d bytes, want %d", v, buf.Len(), quicvarint.Len(v))
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("ReadVarInt: %v", err)
		}
		if got != v {
			t.Errorf("ReadVarInt = %d, want %d", got, v)
		}
	}
}

func TestVarIntOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVarInt(&buf, quicvarint.Max+1)
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer should be untouched, has %d bytes", buf.Len())
	}
}

func TestStringTooLong(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, strings.Repeat("x", MaxStringLen+1)); !errors.Is(err, ErrBounds) {
		t.Fatalf("WriteString: expected ErrBounds, got %v", err)
	}

	buf.Reset()
	_ = WriteVarInt(&buf, MaxStringLen+1)
	if _, err := ReadString(&buf); !errors.Is(err, ErrBounds) {
		t.Fatalf("ReadString: expected ErrBounds, got %v", err)
	}
}

func TestStringTruncated(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteString(&buf, "namespace")
	truncated := bytes.NewReader(buf.Bytes()[:4])

	_, err := ReadString(truncated)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestBytesLimit(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteBytes(&buf, []byte("payload"))

	if _, err := ReadBytes(bytes.NewReader(buf.Bytes()), 3); !errors.Is(err, ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
	got, err := ReadBytes(bytes.NewReader(buf.Bytes()), 16)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("ReadBytes = %q", got)
	}
}

func TestMoreError(t *testing.T) {
	var err error = &MoreError{Remaining: 42}
	if !errors.Is(err, ErrMore) {
		t.Fatal("MoreError should match ErrMore")
	}
	var more *MoreError
	if !errors.As(err, &more) || more.Remaining != 42 {
		t.Fatalf("errors.As did not yield the remaining count: %v", err)
	}
	if !strings.Contains(err.Error(), "42 bytes remaining") {
		t.Errorf("Error() = %q", err.Error())
	}
}
