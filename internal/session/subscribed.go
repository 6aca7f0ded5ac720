package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gezibash/moq-relay/internal/message"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/internal/task"
	"github.com/gezibash/moq-relay/pkg/logging"
)

// Subscribed is a subscribe received from the peer.
type Subscribed struct {
	pub *Publisher
	msg message.Subscribe
	log *logging.Logger

	mu           sync.Mutex
	accepted     bool
	closed       bool
	unsubscribed chan struct{}
	unsubOnce    sync.Once
	streams      atomic.Uint64
}

func newSubscribed(p *Publisher, m message.Subscribe) *Subscribed {
	return &Subscribed{
		pub:          p,
		msg:          m,
		log:          p.s.log.WithTrack(m.Namespace, m.Name),
		unsubscribed: make(chan struct{}),
	}
}

// ID returns the subscription id chosen by the peer.
func (s *Subscribed) ID() uint64 { return s.msg.ID }

// Namespace returns the requested namespace.
func (s *Subscribed) Namespace() string { return s.msg.Namespace }

// Name returns the requested track name.
func (s *Subscribed) Name() string { return s.msg.Name }

func (s *Subscribed) unsubscribe() {
	s.unsubOnce.Do(func() { close(s.unsubscribed) })
}

// Close rejects the subscribe, or ends it if it was already accepted.
// A nil err ends an accepted subscription cleanly.
func (s *Subscribed) Close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	accepted := s.accepted
	s.mu.Unlock()

	defer s.pub.remove(s.msg.ID)

	c, reason := code(err)
	if !accepted {
		if c == CodeOK {
			c, reason = CodeNotFound, "not found"
		}
		_ = s.pub.s.send(message.SubscribeError{ID: s.msg.ID, Code: c, Reason: reason})
		return
	}
	_ = s.pub.s.send(message.SubscribeDone{ID: s.msg.ID, Code: c, Reason: reason, Streams: s.streams.Load()})
}

func (s *Subscribed) serveFrom(ctx context.Context, tracks *serve.TracksReader) error {
	track, err := tracks.Subscribe(s.msg.Name)
	if err != nil {
		s.Close(err)
		return err
	}
	return s.Serve(ctx, track)
}

// Serve accepts the subscribe and streams track to the peer in the track's
// delivery mode until the track ends, the peer unsubscribes, or ctx is done.
func (s *Subscribed) Serve(ctx context.Context, track *serve.TrackReader) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.unsubscribed:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.accepted = true
	s.mu.Unlock()

	if err := s.pub.s.send(message.SubscribeOk{ID: s.msg.ID}); err != nil {
		s.Close(err)
		return err
	}

	defer func() {
		switch {
		case errors.Is(err, io.EOF):
			err = nil
			s.Close(nil)
		case s.isUnsubscribed():
			err = nil
			s.Close(nil)
		default:
			s.Close(err)
		}
	}()

	mode, err := track.Mode(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("serving track", "mode", mode.Mode().String())

	switch r := mode.(type) {
	case *serve.StreamReader:
		return s.serveStream(ctx, r)
	case *serve.GroupsReader:
		return s.serveGroups(ctx, r)
	case *serve.ObjectsReader:
		return s.serveObjects(ctx, r)
	case *serve.DatagramsReader:
		return s.serveDatagrams(ctx, r)
	default:
		return fmt.Errorf("unsupported mode %s", mode.Mode())
	}
}

func (s *Subscribed) isUnsubscribed() bool {
	select {
	case <-s.unsubscribed:
		return true
	default:
		return false
	}
}

func (s *Subscribed) openWriter(ctx context.Context, mode serve.Mode) (*Writer, error) {
	stream, err := s.pub.s.conn.OpenUniStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	s.streams.Add(1)
	return s.pub.s.countBytes(NewWriter(stream), mode.String()), nil
}

func (s *Subscribed) serveStream(ctx context.Context, r *serve.StreamReader) error {
	w, err := s.openWriter(ctx, serve.ModeStream)
	if err != nil {
		return err
	}
	defer func() { _ = w.Finish() }()

	if err := w.Encode(message.TrackHeader{SubscribeID: s.msg.ID, Priority: r.Priority()}); err != nil {
		return err
	}
	for {
		group, err := r.Next(ctx)
		if err != nil {
			return err
		}
		for {
			obj, err := group.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			frame := message.TrackObject{GroupID: group.ID(), ObjectID: obj.ID, Size: uint64(len(obj.Payload))}
			if err := w.Encode(frame); err != nil {
				return err
			}
			if err := w.Write(obj.Payload); err != nil {
				return err
			}
		}
	}
}

func (s *Subscribed) serveGroups(ctx context.Context, r *serve.GroupsReader) error {
	return s.fanOut(ctx, func(ctx context.Context) (func(context.Context) error, error) {
		group, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return s.serveGroup(ctx, group) }, nil
	})
}

func (s *Subscribed) serveGroup(ctx context.Context, group *serve.GroupReader) error {
	w, err := s.openWriter(ctx, serve.ModeGroups)
	if err != nil {
		return err
	}
	defer func() { _ = w.Finish() }()

	header := message.GroupHeader{SubscribeID: s.msg.ID, GroupID: group.ID(), Priority: group.Priority()}
	if err := w.Encode(header); err != nil {
		return err
	}
	for {
		obj, err := group.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.Encode(message.GroupObject{ObjectID: obj.ID, Size: uint64(len(obj.Payload))}); err != nil {
			return err
		}
		if err := w.Write(obj.Payload); err != nil {
			return err
		}
	}
}

func (s *Subscribed) serveObjects(ctx context.Context, r *serve.ObjectsReader) error {
	return s.fanOut(ctx, func(ctx context.Context) (func(context.Context) error, error) {
		obj, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return s.serveObject(ctx, obj) }, nil
	})
}

func (s *Subscribed) serveObject(ctx context.Context, obj *serve.ObjectReader) error {
	payload, err := obj.ReadAll(ctx)
	if err != nil {
		return err
	}
	w, err := s.openWriter(ctx, serve.ModeObjects)
	if err != nil {
		return err
	}
	defer func() { _ = w.Finish() }()

	o := obj.Object()
	header := message.ObjectHeader{SubscribeID: s.msg.ID, GroupID: o.GroupID, ObjectID: o.ObjectID, Priority: o.Priority}
	if err := w.Encode(header); err != nil {
		return err
	}
	return w.Write(payload)
}

func (s *Subscribed) serveDatagrams(ctx context.Context, r *serve.DatagramsReader) error {
	var counter func(int)
	if m := s.pub.s.metrics; m != nil {
		c := m.BytesWritten.WithLabelValues(serve.ModeDatagrams.String())
		counter = func(n int) { c.Add(float64(n)) }
	}
	for {
		d, err := r.Read(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		msg := message.Datagram{
			SubscribeID: s.msg.ID,
			GroupID:     d.GroupID,
			ObjectID:    d.ObjectID,
			Priority:    d.Priority,
			Payload:     d.Payload,
		}
		if err := msg.Encode(&buf); err != nil {
			return err
		}
		if err := s.pub.s.conn.SendDatagram(buf.Bytes()); err != nil {
			s.log.Debug("datagram dropped", "error", err)
			continue
		}
		if counter != nil {
			counter(buf.Len())
		}
	}
}

// fanOut runs each unit returned by next in its own goroutine. A failing unit
// is logged and does not stop the others; the loop ends when next fails.
func (s *Subscribed) fanOut(ctx context.Context, next func(context.Context) (func(context.Context) error, error)) error {
	tasks := task.NewSet(ctx)
	defer tasks.Close()

	units := task.Feed(tasks.Context(), next)
	for {
		select {
		case item, ok := <-units:
			if !ok {
				return ctx.Err()
			}
			if item.Err != nil {
				if !errors.Is(item.Err, io.EOF) {
					return item.Err
				}
				// Let streams already started deliver their tail.
				for tasks.Len() > 0 {
					<-tasks.Ready()
					tasks.Release()
				}
				return io.EOF
			}
			tasks.Spawn(s.msg.Name, item.Value)
		case res := <-tasks.Ready():
			tasks.Release()
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				s.log.Debug("data stream failed", "error", res.Err)
			}
		}
	}
}
