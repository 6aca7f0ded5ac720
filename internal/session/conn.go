package session

import (
	"context"
	"io"
)

// Stream is a bidirectional transport stream.
type Stream interface {
	io.Reader
	SendStream
}

// ReceiveStream is the read half of a unidirectional transport stream.
type ReceiveStream interface {
	io.Reader
}

// Conn is an established, authenticated transport connection.
type Conn interface {
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	OpenUniStream(ctx context.Context) (SendStream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	SendDatagram(p []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	CloseWithError(code uint64, reason string) error
}
