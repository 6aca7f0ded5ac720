// Package session implements the announce and subscribe protocol over a
// transport connection.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gezibash/moq-relay/internal/message"
	"github.com/gezibash/moq-relay/internal/observability"
	"github.com/gezibash/moq-relay/pkg/logging"
)

// Options configures a session.
type Options struct {
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Session is one peer connection. It can publish and subscribe at the same time.
type Session struct {
	id      string
	conn    Conn
	log     *logging.Logger
	metrics *observability.Metrics

	control *bufio.Reader
	sendMu  sync.Mutex
	sender  *Writer

	publisher  *Publisher
	subscriber *Subscriber

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Connect opens the control stream and performs the client side of Setup.
func Connect(ctx context.Context, conn Conn, opts Options) (*Session, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWithError(CodeInternal, "setup cancelled")
	})
	defer stop()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open control stream: %w", err)
	}
	s := newSession(conn, stream, opts)
	if err := s.send(message.Setup{Version: message.Version}); err != nil {
		return nil, err
	}
	if err := s.recvSetup(); err != nil {
		_ = conn.CloseWithError(CodeProtocol, err.Error())
		return nil, err
	}
	return s, nil
}

// Accept waits for the control stream and performs the server side of Setup.
func Accept(ctx context.Context, conn Conn, opts Options) (*Session, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWithError(CodeInternal, "setup cancelled")
	})
	defer stop()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept control stream: %w", err)
	}
	s := newSession(conn, stream, opts)
	if err := s.recvSetup(); err != nil {
		_ = conn.CloseWithError(CodeProtocol, err.Error())
		return nil, err
	}
	if err := s.send(message.Setup{Version: message.Version}); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(conn Conn, stream Stream, opts Options) *Session {
	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logging.New(nil)
	}
	s := &Session{
		id:      id,
		conn:    conn,
		log:     log.WithComponent("session").WithConn(logging.FormatID(id)),
		metrics: opts.Metrics,
		control: bufio.NewReader(stream),
		sender:  NewWriter(stream),
		done:    make(chan struct{}),
	}
	s.publisher = newPublisher(s)
	s.subscriber = newSubscriber(s)
	return s
}

func (s *Session) recvSetup() error {
	msg, err := message.DecodeControl(s.control)
	if err != nil {
		return fmt.Errorf("read setup: %w", err)
	}
	setup, ok := msg.(message.Setup)
	if !ok {
		return fmt.Errorf("expected setup, got %s: %w", msg.Type(), ErrVersion)
	}
	if setup.Version != message.Version {
		return fmt.Errorf("peer version 0x%x: %w", setup.Version, ErrVersion)
	}
	return nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Publisher returns the side of the session that announces and serves tracks.
func (s *Session) Publisher() *Publisher { return s.publisher }

// Subscriber returns the side of the session that receives announces and subscribes.
func (s *Session) Subscriber() *Subscriber { return s.subscriber }

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session until the connection fails or ctx is cancelled.
// Pending announces and subscriptions fail with the terminal error.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.CloseWithError(CodeOK, "")
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return s.abort(s.runControl()) })
	g.Go(func() error { return s.abort(s.runStreams(ctx)) })
	g.Go(func() error { return s.abort(s.runDatagrams(ctx)) })

	err := g.Wait()
	if clean(err) {
		err = nil
	}
	s.close(err)
	return err
}

// abort closes the connection when any loop of Run exits, so the others unblock.
func (s *Session) abort(err error) error {
	if clean(err) {
		_ = s.conn.CloseWithError(CodeOK, "")
		return err
	}
	c, reason := code(err)
	_ = s.conn.CloseWithError(c, reason)
	return err
}

func clean(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		terminal := err
		if terminal == nil {
			terminal = io.EOF
		}
		s.publisher.close(terminal)
		s.subscriber.close(terminal)
	})
}

// Close terminates the connection with the code derived from err.
func (s *Session) Close(err error) error {
	c, reason := code(err)
	closeErr := s.conn.CloseWithError(c, reason)
	s.close(err)
	return closeErr
}

func (s *Session) send(msg message.Control) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.sender.Encode(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

func (s *Session) runControl() error {
	for {
		msg, err := message.DecodeControl(s.control)
		if err != nil {
			return fmt.Errorf("read control: %w", err)
		}
		s.log.Debug("received control message", "type", msg.Type().String())

		switch m := msg.(type) {
		case message.Announce:
			err = s.subscriber.recvAnnounce(m)
		case message.Unannounce:
			s.subscriber.recvUnannounce(m)
		case message.SubscribeOk:
			s.subscriber.recvSubscribeOk(m)
		case message.SubscribeError:
			s.subscriber.recvSubscribeError(m)
		case message.SubscribeDone:
			s.subscriber.recvSubscribeDone(m)
		case message.AnnounceOk:
			s.publisher.recvAnnounceOk(m)
		case message.AnnounceError:
			s.publisher.recvAnnounceError(m)
		case message.Subscribe:
			err = s.publisher.recvSubscribe(m)
		case message.Unsubscribe:
			s.publisher.recvUnsubscribe(m)
		default:
			err = &Error{Code: CodeProtocol, Reason: "unexpected " + msg.Type().String()}
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) runStreams(ctx context.Context) error {
	for {
		stream, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			return fmt.Errorf("accept stream: %w", err)
		}
		go func() {
			if err := s.subscriber.recvStream(stream); err != nil {
				s.log.Debug("data stream failed", "error", err)
			}
		}()
	}
}

func (s *Session) runDatagrams(ctx context.Context) error {
	for {
		p, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			return fmt.Errorf("receive datagram: %w", err)
		}
		d, err := message.DecodeDatagram(p)
		if err != nil {
			s.log.Debug("dropping malformed datagram", "error", err)
			continue
		}
		s.subscriber.recvDatagram(d)
	}
}

func (s *Session) countBytes(w *Writer, mode string) *Writer {
	if s.metrics == nil {
		return w
	}
	return w.CountBytes(s.metrics.BytesWritten.WithLabelValues(mode))
}
