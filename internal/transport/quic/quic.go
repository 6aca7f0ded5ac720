// Package quic adapts quic-go connections to session.Conn.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/gezibash/moq-relay/internal/session"
)

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "moq-00"

// Config holds transport settings.
type Config struct {
	// IdleTimeout closes a connection after this long without traffic.
	IdleTimeout time.Duration
	// KeepAlive sends keep-alive packets at this interval. Zero disables them.
	KeepAlive time.Duration
}

func (c Config) quicConfig() *quicgo.Config {
	return &quicgo.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  c.IdleTimeout,
		KeepAlivePeriod: c.KeepAlive,
	}
}

// Listener accepts QUIC connections.
type Listener struct {
	ln *quicgo.Listener
}

// Listen binds addr. tlsConf must carry a certificate; ALPN is added if missing.
func Listen(addr string, tlsConf *tls.Config, cfg Config) (*Listener, error) {
	ln, err := quicgo.ListenAddr(addr, withALPN(tlsConf), cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial connects to a relay URL such as https://relay.example:4443.
func Dial(ctx context.Context, rawURL string, tlsConf *tls.Config, cfg Config) (*Conn, error) {
	addr, host, err := hostPort(rawURL)
	if err != nil {
		return nil, err
	}
	conf := withALPN(tlsConf)
	if conf.ServerName == "" {
		conf.ServerName = host
	}
	conn, err := quicgo.DialAddr(ctx, addr, conf, cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{conn: conn}, nil
}

func hostPort(rawURL string) (addr, host string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), u.Hostname(), nil
}

func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		conf = &tls.Config{}
	}
	conf = conf.Clone()
	for _, p := range conf.NextProtos {
		if p == ALPN {
			return conf
		}
	}
	conf.NextProtos = append(conf.NextProtos, ALPN)
	return conf
}

// Conn is a QUIC connection satisfying session.Conn.
type Conn struct {
	conn *quicgo.Conn
}

var _ session.Conn = (*Conn)(nil)

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) OpenStream(ctx context.Context) (session.Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &stream{Stream: s}, nil
}

func (c *Conn) AcceptStream(ctx context.Context) (session.Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &stream{Stream: s}, nil
}

func (c *Conn) OpenUniStream(ctx context.Context) (session.SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &sendStream{SendStream: s}, nil
}

func (c *Conn) AcceptUniStream(ctx context.Context) (session.ReceiveStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &receiveStream{ReceiveStream: s}, nil
}

func (c *Conn) SendDatagram(p []byte) error {
	return mapError(c.conn.SendDatagram(p))
}

func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	p, err := c.conn.ReceiveDatagram(ctx)
	return p, mapError(err)
}

func (c *Conn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quicgo.ApplicationErrorCode(code), reason)
}

// mapError reports a clean application close as io.EOF and any other
// application close as *session.Error.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *quicgo.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.ErrorCode == 0 {
			return io.EOF
		}
		return &session.Error{Code: uint64(appErr.ErrorCode), Reason: appErr.ErrorMessage}
	}
	return err
}

type stream struct {
	*quicgo.Stream
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.Stream.Read(p)
	return n, mapStreamError(err)
}

func (s *stream) Write(p []byte) (int, error) {
	n, err := s.Stream.Write(p)
	return n, mapError(err)
}

type sendStream struct {
	*quicgo.SendStream
}

func (s *sendStream) Write(p []byte) (int, error) {
	n, err := s.SendStream.Write(p)
	return n, mapError(err)
}

type receiveStream struct {
	*quicgo.ReceiveStream
}

func (s *receiveStream) Read(p []byte) (int, error) {
	n, err := s.ReceiveStream.Read(p)
	return n, mapStreamError(err)
}

// mapStreamError keeps io.EOF from a finished stream and maps connection closes.
func mapStreamError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return mapError(err)
}
