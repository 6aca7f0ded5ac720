package message

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/gezibash/moq-relay/internal/coding"
)

func encode(t *testing.T, msgs ...coding.Encoder) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := m.Encode(&buf); err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
	}
	return &buf
}

func TestControlSequence(t *testing.T) {
	sent := []Control{
		Setup{Version: Version},
		Announce{Namespace: "live"},
		AnnounceError{Namespace: "live", Code: 409, Reason: "duplicate"},
		Subscribe{ID: 7, Namespace: "live", Name: ".xyz.abc"},
		SubscribeDone{ID: 7, Code: 0, Streams: 12},
		Unsubscribe{ID: 9},
	}
	encs := make([]coding.Encoder, len(sent))
	for i, m := range sent {
		encs[i] = m
	}
	r := bufio.NewReader(encode(t, encs...))

	for _, want := range sent {
		got, err := DecodeControl(r)
		if err != nil {
			t.Fatalf("DecodeControl: %v", err)
		}
		if got != want {
			t.Errorf("DecodeControl = %#v, want %#v", got, want)
		}
	}
	if _, err := DecodeControl(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecodeControlUnknownType(t *testing.T) {
	buf := encode(t, TrackHeader{SubscribeID: 1})
	_, err := DecodeControl(bufio.NewReader(buf))
	if !errors.Is(err, coding.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestDecodeControlTruncated(t *testing.T) {
	buf := encode(t, Subscribe{ID: 1, Namespace: "live", Name: "video"})
	short := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := DecodeControl(short)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestTrackStream(t *testing.T) {
	buf := encode(t,
		TrackHeader{SubscribeID: 3, Priority: 1},
		TrackObject{GroupID: 0, ObjectID: 0, Size: 2},
	)
	buf.WriteString("hi")
	_ = TrackObject{GroupID: 1, ObjectID: 0, Size: 0}.Encode(buf)
	r := bufio.NewReader(buf)

	h, err := DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h != (TrackHeader{SubscribeID: 3, Priority: 1}) {
		t.Fatalf("header = %#v", h)
	}

	obj, err := DecodeTrackObject(r)
	if err != nil {
		t.Fatalf("DecodeTrackObject: %v", err)
	}
	payload, err := ReadPayload(r, obj.Size)
	if err != nil || string(payload) != "hi" {
		t.Fatalf("ReadPayload = %q, %v", payload, err)
	}

	obj, err = DecodeTrackObject(r)
	if err != nil || obj.GroupID != 1 || obj.Size != 0 {
		t.Fatalf("second object = %#v, %v", obj, err)
	}
	if _, err := DecodeTrackObject(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF between objects, got %v", err)
	}
}

func TestGroupStreamTruncatedPayload(t *testing.T) {
	buf := encode(t,
		GroupHeader{SubscribeID: 1, GroupID: 5, Priority: 2},
		GroupObject{ObjectID: 0, Size: 10},
	)
	buf.WriteString("short")
	r := bufio.NewReader(buf)

	h, err := DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Subscription() != 1 {
		t.Errorf("Subscription() = %d", h.Subscription())
	}
	obj, err := DecodeGroupObject(r)
	if err != nil {
		t.Fatalf("DecodeGroupObject: %v", err)
	}
	if _, err := ReadPayload(r, obj.Size); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDatagram(t *testing.T) {
	d := Datagram{SubscribeID: 2, GroupID: 4, ObjectID: 6, Priority: 8, Payload: []byte("frame")}
	buf := encode(t, d)

	got, err := DecodeDatagram(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeDatagram: %v", err)
	}
	if got.GroupID != 4 || got.ObjectID != 6 || got.Priority != 8 || string(got.Payload) != "frame" {
		t.Errorf("DecodeDatagram = %#v", got)
	}

	if _, err := DecodeDatagram(encode(t, ObjectHeader{}).Bytes()); !errors.Is(err, coding.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for non-datagram type, got %v", err)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	if _, err := ReadPayload(bytes.NewReader(nil), MaxObjectSize+1); !errors.Is(err, coding.ErrBounds) {
		t.Fatalf("expected ErrBounds, got %v", err)
	}
}
