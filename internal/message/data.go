package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gezibash/moq-relay/internal/coding"
)

// MaxObjectSize bounds a single object payload.
const MaxObjectSize = 16 << 20

// Header opens a unidirectional data stream.
type Header interface {
	coding.Encoder
	Type() Type
	Subscription() uint64
}

// TrackHeader opens the single stream carrying a whole track in Stream mode.
// Each object follows as a TrackObject and its payload.
type TrackHeader struct {
	SubscribeID uint64
	Priority    uint64
}

// TrackObject frames one object inside a track stream.
type TrackObject struct {
	GroupID  uint64
	ObjectID uint64
	Size     uint64
}

// GroupHeader opens a stream carrying one group in Groups mode.
// Each object follows as a GroupObject and its payload.
type GroupHeader struct {
	SubscribeID uint64
	GroupID     uint64
	Priority    uint64
}

// GroupObject frames one object inside a group stream.
type GroupObject struct {
	ObjectID uint64
	Size     uint64
}

// ObjectHeader opens a stream carrying one object in Objects mode.
// The payload runs until the end of the stream.
type ObjectHeader struct {
	SubscribeID uint64
	GroupID     uint64
	ObjectID    uint64
	Priority    uint64
}

// Datagram carries one object in a single unreliable datagram.
type Datagram struct {
	SubscribeID uint64
	GroupID     uint64
	ObjectID    uint64
	Priority    uint64
	Payload     []byte
}

func (TrackHeader) Type() Type  { return TypeStreamHeaderTrack }
func (GroupHeader) Type() Type  { return TypeStreamHeaderGroup }
func (ObjectHeader) Type() Type { return TypeObjectStream }
func (Datagram) Type() Type     { return TypeObjectDatagram }

func (h TrackHeader) Subscription() uint64  { return h.SubscribeID }
func (h GroupHeader) Subscription() uint64  { return h.SubscribeID }
func (h ObjectHeader) Subscription() uint64 { return h.SubscribeID }

func (h TrackHeader) Encode(buf *bytes.Buffer) error {
	return writeVarInts(buf, uint64(h.Type()), h.SubscribeID, h.Priority)
}

func (h GroupHeader) Encode(buf *bytes.Buffer) error {
	return writeVarInts(buf, uint64(h.Type()), h.SubscribeID, h.GroupID, h.Priority)
}

func (h ObjectHeader) Encode(buf *bytes.Buffer) error {
	return writeVarInts(buf, uint64(h.Type()), h.SubscribeID, h.GroupID, h.ObjectID, h.Priority)
}

func (o TrackObject) Encode(buf *bytes.Buffer) error {
	return writeVarInts(buf, o.GroupID, o.ObjectID, o.Size)
}

func (o GroupObject) Encode(buf *bytes.Buffer) error {
	return writeVarInts(buf, o.ObjectID, o.Size)
}

func (d Datagram) Encode(buf *bytes.Buffer) error {
	if err := writeVarInts(buf, uint64(d.Type()), d.SubscribeID, d.GroupID, d.ObjectID, d.Priority); err != nil {
		return err
	}
	buf.Write(d.Payload)
	return nil
}

// DecodeHeader reads the header that opens a unidirectional data stream.
func DecodeHeader(r coding.Reader) (Header, error) {
	v, err := coding.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	t := Type(v)

	var vals []uint64
	switch t {
	case TypeStreamHeaderTrack:
		vals, err = readVarInts(r, 2)
		if err == nil {
			return TrackHeader{SubscribeID: vals[0], Priority: vals[1]}, nil
		}
	case TypeStreamHeaderGroup:
		vals, err = readVarInts(r, 3)
		if err == nil {
			return GroupHeader{SubscribeID: vals[0], GroupID: vals[1], Priority: vals[2]}, nil
		}
	case TypeObjectStream:
		vals, err = readVarInts(r, 4)
		if err == nil {
			return ObjectHeader{SubscribeID: vals[0], GroupID: vals[1], ObjectID: vals[2], Priority: vals[3]}, nil
		}
	default:
		return nil, fmt.Errorf("stream header %s: %w", t, coding.ErrInvalidValue)
	}
	return nil, fmt.Errorf("decode %s: %w", t, noEOF(err))
}

// DecodeTrackObject reads the next object frame of a track stream.
// It returns io.EOF when the stream ends cleanly between objects.
func DecodeTrackObject(r coding.Reader) (TrackObject, error) {
	vals, err := readObjectFrame(r, 3)
	if err != nil {
		return TrackObject{}, err
	}
	return TrackObject{GroupID: vals[0], ObjectID: vals[1], Size: vals[2]}, nil
}

// DecodeGroupObject reads the next object frame of a group stream.
// It returns io.EOF when the stream ends cleanly between objects.
func DecodeGroupObject(r coding.Reader) (GroupObject, error) {
	vals, err := readObjectFrame(r, 2)
	if err != nil {
		return GroupObject{}, err
	}
	return GroupObject{ObjectID: vals[0], Size: vals[1]}, nil
}

// DecodeDatagram parses a received datagram.
func DecodeDatagram(b []byte) (Datagram, error) {
	r := bytes.NewReader(b)
	t, err := coding.ReadVarInt(r)
	if err != nil {
		return Datagram{}, fmt.Errorf("decode datagram: %w", noEOF(err))
	}
	if Type(t) != TypeObjectDatagram {
		return Datagram{}, fmt.Errorf("datagram type %s: %w", Type(t), coding.ErrInvalidValue)
	}
	vals, err := readVarInts(r, 4)
	if err != nil {
		return Datagram{}, fmt.Errorf("decode datagram: %w", noEOF(err))
	}
	payload := make([]byte, r.Len())
	_, _ = r.Read(payload)
	return Datagram{
		SubscribeID: vals[0],
		GroupID:     vals[1],
		ObjectID:    vals[2],
		Priority:    vals[3],
		Payload:     payload,
	}, nil
}

// ReadPayload reads exactly size payload bytes following an object frame.
func ReadPayload(r io.Reader, size uint64) ([]byte, error) {
	if size > MaxObjectSize {
		return nil, fmt.Errorf("object size %d: %w", size, coding.ErrBounds)
	}
	p := make([]byte, size)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, noEOF(err)
	}
	return p, nil
}

func readObjectFrame(r coding.Reader, n int) ([]uint64, error) {
	vals, err := readVarInts(r, n)
	if err != nil {
		if errors.Is(err, io.EOF) && vals == nil {
			return nil, io.EOF
		}
		return nil, noEOF(err)
	}
	return vals, nil
}

// readVarInts reads n varints. On failure after the first value it returns the
// values read so far so callers can tell a clean stream end from a truncated frame.
func readVarInts(r io.ByteReader, n int) ([]uint64, error) {
	var vals []uint64
	for i := 0; i < n; i++ {
		v, err := coding.ReadVarInt(r)
		if err != nil {
			return vals, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func writeVarInts(buf *bytes.Buffer, vals ...uint64) error {
	for _, v := range vals {
		if err := coding.WriteVarInt(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
