// Package message defines the control messages and data stream headers exchanged
// between peers. Every message begins with a varint type followed by its fields.
package message

import (
	"bytes"
	"fmt"

	"github.com/gezibash/moq-relay/internal/coding"
)

// Version is the protocol version negotiated in Setup.
const Version uint64 = 0xff000001

// Type identifies a message on the wire.
type Type uint64

const (
	TypeObjectStream      Type = 0x00
	TypeObjectDatagram    Type = 0x01
	TypeSubscribe         Type = 0x03
	TypeSubscribeOk       Type = 0x04
	TypeSubscribeError    Type = 0x05
	TypeAnnounce          Type = 0x06
	TypeAnnounceOk        Type = 0x07
	TypeAnnounceError     Type = 0x08
	TypeUnannounce        Type = 0x09
	TypeUnsubscribe       Type = 0x0a
	TypeSubscribeDone     Type = 0x0b
	TypeSetup             Type = 0x40
	TypeStreamHeaderTrack Type = 0x50
	TypeStreamHeaderGroup Type = 0x51
)

func (t Type) String() string {
	switch t {
	case TypeObjectStream:
		return "object_stream"
	case TypeObjectDatagram:
		return "object_datagram"
	case TypeSubscribe:
		return "subscribe"
	case TypeSubscribeOk:
		return "subscribe_ok"
	case TypeSubscribeError:
		return "subscribe_error"
	case TypeAnnounce:
		return "announce"
	case TypeAnnounceOk:
		return "announce_ok"
	case TypeAnnounceError:
		return "announce_error"
	case TypeUnannounce:
		return "unannounce"
	case TypeUnsubscribe:
		return "unsubscribe"
	case TypeSubscribeDone:
		return "subscribe_done"
	case TypeSetup:
		return "setup"
	case TypeStreamHeaderTrack:
		return "stream_header_track"
	case TypeStreamHeaderGroup:
		return "stream_header_group"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint64(t))
	}
}

// Control is a message carried on the control stream.
type Control interface {
	coding.Encoder
	Type() Type
}

// Setup opens a session. Both sides send one.
type Setup struct {
	Version uint64
}

// Announce declares a namespace of tracks.
type Announce struct {
	Namespace string
}

// AnnounceOk accepts an announce.
type AnnounceOk struct {
	Namespace string
}

// AnnounceError rejects an announce.
type AnnounceError struct {
	Namespace string
	Code      uint64
	Reason    string
}

// Unannounce withdraws an announce.
type Unannounce struct {
	Namespace string
}

// Subscribe requests a track. ID is chosen by the subscriber and scoped to the session.
type Subscribe struct {
	ID        uint64
	Namespace string
	Name      string
}

// SubscribeOk accepts a subscription.
type SubscribeOk struct {
	ID uint64
}

// SubscribeError rejects a subscription.
type SubscribeError struct {
	ID     uint64
	Code   uint64
	Reason string
}

// SubscribeDone ends an accepted subscription. Code 0 is a clean end of track.
// Streams counts the data streams opened for the subscription so the receiver
// can wait for all of them before ending the track.
type SubscribeDone struct {
	ID      uint64
	Code    uint64
	Reason  string
	Streams uint64
}

// Unsubscribe cancels a subscription from the subscriber side.
type Unsubscribe struct {
	ID uint64
}

func (Setup) Type() Type          { return TypeSetup }
func (Announce) Type() Type       { return TypeAnnounce }
func (AnnounceOk) Type() Type     { return TypeAnnounceOk }
func (AnnounceError) Type() Type  { return TypeAnnounceError }
func (Unannounce) Type() Type     { return TypeUnannounce }
func (Subscribe) Type() Type      { return TypeSubscribe }
func (SubscribeOk) Type() Type    { return TypeSubscribeOk }
func (SubscribeError) Type() Type { return TypeSubscribeError }
func (SubscribeDone) Type() Type  { return TypeSubscribeDone }
func (Unsubscribe) Type() Type    { return TypeUnsubscribe }

func (m Setup) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteVarInt(buf, m.Version)
	})
}

func (m Announce) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteString(buf, m.Namespace)
	})
}

func (m AnnounceOk) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteString(buf, m.Namespace)
	})
}

func (m AnnounceError) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		if err := coding.WriteString(buf, m.Namespace); err != nil {
			return err
		}
		if err := coding.WriteVarInt(buf, m.Code); err != nil {
			return err
		}
		return coding.WriteString(buf, m.Reason)
	})
}

func (m Unannounce) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteString(buf, m.Namespace)
	})
}

func (m Subscribe) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		if err := coding.WriteVarInt(buf, m.ID); err != nil {
			return err
		}
		if err := coding.WriteString(buf, m.Namespace); err != nil {
			return err
		}
		return coding.WriteString(buf, m.Name)
	})
}

func (m SubscribeOk) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteVarInt(buf, m.ID)
	})
}

func (m SubscribeError) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return encodeIDCodeReason(buf, m.ID, m.Code, m.Reason)
	})
}

func (m SubscribeDone) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		if err := encodeIDCodeReason(buf, m.ID, m.Code, m.Reason); err != nil {
			return err
		}
		return coding.WriteVarInt(buf, m.Streams)
	})
}

func (m Unsubscribe) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, m.Type(), func() error {
		return coding.WriteVarInt(buf, m.ID)
	})
}

func encodeAll(buf *bytes.Buffer, t Type, fields func() error) error {
	if err := coding.WriteVarInt(buf, uint64(t)); err != nil {
		return err
	}
	if err := fields(); err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	return nil
}

func encodeIDCodeReason(buf *bytes.Buffer, id, code uint64, reason string) error {
	if err := coding.WriteVarInt(buf, id); err != nil {
		return err
	}
	if err := coding.WriteVarInt(buf, code); err != nil {
		return err
	}
	return coding.WriteString(buf, reason)
}

// DecodeControl reads the next control message.
func DecodeControl(r coding.Reader) (Control, error) {
	v, err := coding.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	t := Type(v)

	var msg Control
	switch t {
	case TypeSetup:
		var m Setup
		m.Version, err = coding.ReadVarInt(r)
		msg = m
	case TypeAnnounce:
		var m Announce
		m.Namespace, err = coding.ReadString(r)
		msg = m
	case TypeAnnounceOk:
		var m AnnounceOk
		m.Namespace, err = coding.ReadString(r)
		msg = m
	case TypeAnnounceError:
		var m AnnounceError
		if m.Namespace, err = coding.ReadString(r); err == nil {
			m.Code, m.Reason, err = decodeCodeReason(r)
		}
		msg = m
	case TypeUnannounce:
		var m Unannounce
		m.Namespace, err = coding.ReadString(r)
		msg = m
	case TypeSubscribe:
		var m Subscribe
		if m.ID, err = coding.ReadVarInt(r); err == nil {
			if m.Namespace, err = coding.ReadString(r); err == nil {
				m.Name, err = coding.ReadString(r)
			}
		}
		msg = m
	case TypeSubscribeOk:
		var m SubscribeOk
		m.ID, err = coding.ReadVarInt(r)
		msg = m
	case TypeSubscribeError:
		var m SubscribeError
		if m.ID, err = coding.ReadVarInt(r); err == nil {
			m.Code, m.Reason, err = decodeCodeReason(r)
		}
		msg = m
	case TypeSubscribeDone:
		var m SubscribeDone
		if m.ID, err = coding.ReadVarInt(r); err == nil {
			if m.Code, m.Reason, err = decodeCodeReason(r); err == nil {
				m.Streams, err = coding.ReadVarInt(r)
			}
		}
		msg = m
	case TypeUnsubscribe:
		var m Unsubscribe
		m.ID, err = coding.ReadVarInt(r)
		msg = m
	default:
		return nil, fmt.Errorf("control message %s: %w", t, coding.ErrInvalidValue)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, noEOF(err))
	}
	return msg, nil
}

func decodeCodeReason(r coding.Reader) (uint64, string, error) {
	code, err := coding.ReadVarInt(r)
	if err != nil {
		return 0, "", err
	}
	reason, err := coding.ReadString(r)
	if err != nil {
		return 0, "", err
	}
	return code, reason, nil
}
