package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gezibash/moq-relay/internal/message"
	"github.com/gezibash/moq-relay/internal/serve"
)

const (
	announceBacklog = 64

	// drainTimeout bounds how long a finished subscription waits for its
	// in-flight data streams before the track is closed.
	drainTimeout = 2 * time.Second
)

// Subscriber receives the peer's announces and subscribes to its tracks.
type Subscriber struct {
	s *Session

	mu         sync.Mutex
	announced  map[string]*Announced
	queue      chan *Announced
	subscribes map[uint64]*subscription
	nextID     uint64
	closed     bool
	err        error
}

func newSubscriber(s *Session) *Subscriber {
	return &Subscriber{
		s:          s,
		announced:  make(map[string]*Announced),
		queue:      make(chan *Announced, announceBacklog),
		subscribes: make(map[uint64]*subscription),
	}
}

// Announced returns the next announce from the peer. It returns io.EOF once
// the session has ended cleanly and the session error otherwise.
func (sub *Subscriber) Announced(ctx context.Context) (*Announced, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a, ok := <-sub.queue:
		if !ok {
			return nil, sub.err
		}
		return a, nil
	}
}

// Subscribe requests the track from the peer and fills track with what it
// sends. It returns when the subscription ends and always closes track.
func (sub *Subscriber) Subscribe(ctx context.Context, track *serve.TrackWriter) error {
	st := &subscription{track: track, done: make(chan ended, 1)}

	sub.mu.Lock()
	if sub.closed {
		err := sub.err
		sub.mu.Unlock()
		_ = track.Close(err)
		return err
	}
	id := sub.nextID
	sub.nextID++
	sub.subscribes[id] = st
	sub.mu.Unlock()

	defer func() {
		sub.mu.Lock()
		delete(sub.subscribes, id)
		sub.mu.Unlock()
	}()

	log := sub.s.log.WithTrack(track.Namespace(), track.Name())
	msg := message.Subscribe{ID: id, Namespace: track.Namespace(), Name: track.Name()}
	if err := sub.s.send(msg); err != nil {
		_ = track.Close(err)
		return err
	}
	log.Debug("subscribe sent", "id", id)

	select {
	case <-ctx.Done():
		_ = sub.s.send(message.Unsubscribe{ID: id})
		st.drain(0, ctx.Done())
		_ = track.Close(ctx.Err())
		return ctx.Err()
	case end := <-st.done:
		st.drain(end.streams, ctx.Done())
		err := end.err
		_ = track.Close(err)
		if err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", track.Namespace(), track.Name(), err)
		}
		return nil
	}
}

// announceReplier answers announces on the control stream.
type announceReplier struct {
	s *Session
}

func (r announceReplier) AnnounceOk(namespace string) error {
	return r.s.send(message.AnnounceOk{Namespace: namespace})
}

func (r announceReplier) AnnounceError(namespace string, err error) error {
	c, reason := code(err)
	return r.s.send(message.AnnounceError{Namespace: namespace, Code: c, Reason: reason})
}

func (sub *Subscriber) recvAnnounce(m message.Announce) error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	if _, ok := sub.announced[m.Namespace]; ok {
		sub.mu.Unlock()
		return sub.s.send(message.AnnounceError{Namespace: m.Namespace, Code: CodeDuplicate, Reason: "already announced"})
	}

	a := NewAnnounced(m.Namespace, announceReplier{s: sub.s})
	a.onClose = func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.announced[m.Namespace] == a {
			delete(sub.announced, m.Namespace)
		}
	}
	select {
	case sub.queue <- a:
		sub.announced[m.Namespace] = a
		sub.mu.Unlock()
		return nil
	default:
		sub.mu.Unlock()
		return sub.s.send(message.AnnounceError{Namespace: m.Namespace, Code: CodeUnavailable, Reason: "too many pending announces"})
	}
}

func (sub *Subscriber) recvUnannounce(m message.Unannounce) {
	sub.mu.Lock()
	a := sub.announced[m.Namespace]
	sub.mu.Unlock()
	if a != nil {
		a.withdraw(ErrUnannounced)
	}
}

func (sub *Subscriber) lookup(id uint64) *subscription {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.subscribes[id]
}

func (sub *Subscriber) recvSubscribeOk(m message.SubscribeOk) {
	if st := sub.lookup(m.ID); st != nil {
		sub.s.log.Debug("subscribe accepted", "id", m.ID)
	}
}

func (sub *Subscriber) recvSubscribeError(m message.SubscribeError) {
	if st := sub.lookup(m.ID); st != nil {
		st.finish(&Error{Code: m.Code, Reason: m.Reason}, 0)
	}
}

func (sub *Subscriber) recvSubscribeDone(m message.SubscribeDone) {
	if st := sub.lookup(m.ID); st != nil {
		st.finish(fromCode(m.Code, m.Reason), m.Streams)
	}
}

func (sub *Subscriber) recvStream(stream ReceiveStream) error {
	r := bufio.NewReader(stream)
	h, err := message.DecodeHeader(r)
	if err != nil {
		return err
	}
	st := sub.lookup(h.Subscription())
	if st == nil {
		return fmt.Errorf("stream for unknown subscription %d", h.Subscription())
	}
	if !st.acquire() {
		return fmt.Errorf("stream for finished subscription %d", h.Subscription())
	}
	defer st.release()

	switch h := h.(type) {
	case message.TrackHeader:
		return st.recvTrack(h, r)
	case message.GroupHeader:
		return st.recvGroup(h, r)
	case message.ObjectHeader:
		return st.recvObject(h, r)
	default:
		return fmt.Errorf("unexpected stream header %s", h.Type())
	}
}

func (sub *Subscriber) recvDatagram(d message.Datagram) {
	st := sub.lookup(d.SubscribeID)
	if st == nil {
		return
	}
	w, err := st.datagrams()
	if err != nil {
		sub.s.log.Debug("dropping datagram", "error", err)
		return
	}
	_ = w.Write(serve.Datagram{GroupID: d.GroupID, ObjectID: d.ObjectID, Priority: d.Priority, Payload: d.Payload})
}

func (sub *Subscriber) close(err error) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.err = err
	close(sub.queue)
	announced := make([]*Announced, 0, len(sub.announced))
	for _, a := range sub.announced {
		announced = append(announced, a)
	}
	subs := make([]*subscription, 0, len(sub.subscribes))
	for _, st := range sub.subscribes {
		subs = append(subs, st)
	}
	sub.mu.Unlock()

	for _, a := range announced {
		a.withdraw(err)
	}
	for _, st := range subs {
		st.finish(err, 0)
	}
}

// subscription is the receiving state of one outgoing subscribe.
type subscription struct {
	track *serve.TrackWriter
	done  chan ended

	mu        sync.Mutex
	stream    *serve.StreamWriter
	groups    *serve.GroupsWriter
	objects   *serve.ObjectsWriter
	datagramW *serve.DatagramsWriter
	active    int
	received  uint64
	expected  uint64
	waiting   chan struct{}
	closed    bool
}

// ended reports how a subscription finished and how many data streams the
// publisher opened for it.
type ended struct {
	err     error
	streams uint64
}

func (st *subscription) finish(err error, streams uint64) {
	select {
	case st.done <- ended{err: err, streams: streams}:
	default:
	}
}

func (st *subscription) acquire() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return false
	}
	st.active++
	st.received++
	return true
}

func (st *subscription) release() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active--
	st.check()
}

func (st *subscription) settled() bool {
	return st.active == 0 && st.received >= st.expected
}

func (st *subscription) check() {
	if st.waiting != nil && st.settled() {
		close(st.waiting)
		st.waiting = nil
	}
}

// drain waits until the expected number of data streams has been received
// and fully read, up to drainTimeout or until cancel fires. Later streams are rejected.
func (st *subscription) drain(expected uint64, cancel <-chan struct{}) {
	st.mu.Lock()
	st.expected = expected
	if st.settled() {
		st.closed = true
		st.mu.Unlock()
		return
	}
	st.waiting = make(chan struct{})
	waiting := st.waiting
	st.mu.Unlock()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-waiting:
	case <-cancel:
	case <-timer.C:
	}

	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
}

func (st *subscription) streamWriter(priority uint64) (*serve.StreamWriter, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stream == nil {
		w, err := st.track.Stream(priority)
		if err != nil {
			return nil, err
		}
		st.stream = w
	}
	return st.stream, nil
}

func (st *subscription) groupsWriter() (*serve.GroupsWriter, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.groups == nil {
		w, err := st.track.Groups()
		if err != nil {
			return nil, err
		}
		st.groups = w
	}
	return st.groups, nil
}

func (st *subscription) objectsWriter() (*serve.ObjectsWriter, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.objects == nil {
		w, err := st.track.Objects()
		if err != nil {
			return nil, err
		}
		st.objects = w
	}
	return st.objects, nil
}

func (st *subscription) datagrams() (*serve.DatagramsWriter, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.datagramW == nil {
		w, err := st.track.Datagrams()
		if err != nil {
			return nil, err
		}
		st.datagramW = w
	}
	return st.datagramW, nil
}

func (st *subscription) recvTrack(h message.TrackHeader, r *bufio.Reader) error {
	w, err := st.streamWriter(h.Priority)
	if err != nil {
		return err
	}
	var group *serve.GroupWriter
	for {
		frame, err := message.DecodeTrackObject(r)
		if errors.Is(err, io.EOF) {
			if group != nil {
				_ = group.Close(nil)
			}
			return nil
		}
		if err != nil {
			return err
		}
		payload, err := message.ReadPayload(r, frame.Size)
		if err != nil {
			return err
		}
		if group == nil || group.ID() != frame.GroupID {
			if group, err = w.Create(frame.GroupID); err != nil {
				return err
			}
		}
		if err := group.Write(payload); err != nil {
			return err
		}
	}
}

func (st *subscription) recvGroup(h message.GroupHeader, r *bufio.Reader) error {
	w, err := st.groupsWriter()
	if err != nil {
		return err
	}
	group, err := w.Create(serve.Group{ID: h.GroupID, Priority: h.Priority})
	if err != nil {
		return err
	}
	for {
		frame, err := message.DecodeGroupObject(r)
		if errors.Is(err, io.EOF) {
			return group.Close(nil)
		}
		if err != nil {
			_ = group.Close(err)
			return err
		}
		payload, err := message.ReadPayload(r, frame.Size)
		if err != nil {
			_ = group.Close(err)
			return err
		}
		if err := group.Write(payload); err != nil {
			_ = group.Close(err)
			return err
		}
	}
}

func (st *subscription) recvObject(h message.ObjectHeader, r *bufio.Reader) error {
	w, err := st.objectsWriter()
	if err != nil {
		return err
	}
	obj, err := w.Create(serve.Object{GroupID: h.GroupID, ObjectID: h.ObjectID, Priority: h.Priority})
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(io.LimitReader(r, message.MaxObjectSize+1))
	if err == nil && len(payload) > message.MaxObjectSize {
		err = fmt.Errorf("object exceeds %d bytes", message.MaxObjectSize)
	}
	if err != nil {
		_ = obj.Close(err)
		return err
	}
	if err := obj.Write(payload); err != nil {
		_ = obj.Close(err)
		return err
	}
	return obj.Close(nil)
}
