// Package memory provides an in-process transport: two connected session.Conn
// values backed by buffered pipes.
package memory

import (
	"context"
	"io"
	"sync"

	"github.com/gezibash/moq-relay/internal/session"
)

const (
	acceptBacklog   = 64
	datagramBacklog = 256
)

// Conn is one end of an in-process connection.
type Conn struct {
	peer *Conn
	link *link

	bidi      chan session.Stream
	uni       chan session.ReceiveStream
	datagrams chan []byte
}

// link is the state shared by both ends.
type link struct {
	mu     sync.Mutex
	closed chan struct{}
	err    error
	pipes  []*pipe
}

// Pair returns two connected ends.
func Pair() (*Conn, *Conn) {
	l := &link{closed: make(chan struct{})}
	a := newConn(l)
	b := newConn(l)
	a.peer, b.peer = b, a
	return a, b
}

func newConn(l *link) *Conn {
	return &Conn{
		link:      l,
		bidi:      make(chan session.Stream, acceptBacklog),
		uni:       make(chan session.ReceiveStream, acceptBacklog),
		datagrams: make(chan []byte, datagramBacklog),
	}
}

func (l *link) pipe() (*pipe, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newPipe()
	l.pipes = append(l.pipes, p)
	return p, nil
}

func (l *link) close(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false
	}
	l.err = err
	close(l.closed)
	for _, p := range l.pipes {
		p.abort(err)
	}
	l.pipes = nil
	return true
}

func (l *link) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// bidiStream reads from one pipe and writes to another.
type bidiStream struct {
	in  *pipe
	out *pipe
}

func (s *bidiStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *bidiStream) Write(p []byte) (int, error) { return s.out.Write(p) }

func (s *bidiStream) Close() error { return s.out.Close() }

// OpenStream opens a bidirectional stream to the peer.
func (c *Conn) OpenStream(ctx context.Context) (session.Stream, error) {
	up, err := c.link.pipe()
	if err != nil {
		return nil, err
	}
	down, err := c.link.pipe()
	if err != nil {
		return nil, err
	}
	local := &bidiStream{in: down, out: up}
	remote := &bidiStream{in: up, out: down}
	if err := deliver(ctx, c.link, c.peer.bidi, session.Stream(remote)); err != nil {
		return nil, err
	}
	return local, nil
}

// AcceptStream waits for a bidirectional stream opened by the peer.
func (c *Conn) AcceptStream(ctx context.Context) (session.Stream, error) {
	return receive(ctx, c.link, c.bidi)
}

// OpenUniStream opens a unidirectional stream to the peer.
func (c *Conn) OpenUniStream(ctx context.Context) (session.SendStream, error) {
	p, err := c.link.pipe()
	if err != nil {
		return nil, err
	}
	if err := deliver(ctx, c.link, c.peer.uni, session.ReceiveStream(p)); err != nil {
		return nil, err
	}
	return p, nil
}

// AcceptUniStream waits for a unidirectional stream opened by the peer.
func (c *Conn) AcceptUniStream(ctx context.Context) (session.ReceiveStream, error) {
	return receive(ctx, c.link, c.uni)
}

// SendDatagram delivers p unless the peer's queue is full, in which case it is dropped.
func (c *Conn) SendDatagram(p []byte) error {
	if err := c.link.failure(); err != nil {
		return err
	}
	b := make([]byte, len(p))
	copy(b, p)
	select {
	case c.peer.datagrams <- b:
	default:
	}
	return nil
}

// ReceiveDatagram waits for a datagram from the peer.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return receive(ctx, c.link, c.datagrams)
}

// CloseWithError closes both ends. Code 0 is a clean close and surfaces as io.EOF.
func (c *Conn) CloseWithError(code uint64, reason string) error {
	var err error = io.EOF
	if code != session.CodeOK {
		err = &session.Error{Code: code, Reason: reason}
	}
	c.link.close(err)
	return nil
}

// Closed is closed once either end has closed the connection.
func (c *Conn) Closed() <-chan struct{} { return c.link.closed }

func deliver[T any](ctx context.Context, l *link, ch chan T, v T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return l.failure()
	case ch <- v:
		return nil
	}
}

func receive[T any](ctx context.Context, l *link, ch chan T) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.closed:
		return zero, l.failure()
	case v := <-ch:
		return v, nil
	}
}
