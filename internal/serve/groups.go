package serve

import (
	"context"
	"sync"
)

// Retention windows. Producers never wait for consumers; a consumer that falls
// further behind than the window resumes at the oldest retained item.
const (
	DefaultGroupWindow    = 8
	DefaultObjectWindow   = 1024
	DefaultDatagramWindow = 1024
)

// Group identifies a group within a track.
type Group struct {
	ID       uint64
	Priority uint64
}

// GroupObject is one object read from a group.
type GroupObject struct {
	ID      uint64
	Payload []byte
}

type groupState struct {
	Group
	objects *ring[[]byte]
}

type groupsState struct {
	groups *ring[*groupState]

	mu     sync.Mutex
	next   uint64
	closed bool
	// open holds groups not finished yet, including those already evicted
	// from the window, so closing the track ends every one of them.
	open map[*groupState]struct{}
}

func newGroupsState(window int) *groupsState {
	return &groupsState{
		groups: newRing[*groupState](window),
		open:   make(map[*groupState]struct{}),
	}
}

func (s *groupsState) create(g Group) (*GroupWriter, error) {
	gs := &groupState{Group: g, objects: newRing[[]byte](0)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if g.ID >= s.next {
		s.next = g.ID + 1
	}
	s.open[gs] = struct{}{}
	s.mu.Unlock()

	if err := s.groups.push(gs); err != nil {
		s.finish(gs, err)
		return nil, err
	}
	return &GroupWriter{s: s, g: gs}, nil
}

// finish ends a group and forgets it.
func (s *groupsState) finish(g *groupState, err error) error {
	s.mu.Lock()
	delete(s.open, g)
	s.mu.Unlock()
	return g.objects.close(err)
}

func (s *groupsState) append(priority uint64) (*GroupWriter, error) {
	s.mu.Lock()
	id := s.next
	s.mu.Unlock()
	return s.create(Group{ID: id, Priority: priority})
}

func (s *groupsState) reader() ModeReader {
	return &GroupsReader{s: s}
}

func (s *groupsState) close(err error) {
	s.mu.Lock()
	s.closed = true
	open := s.open
	s.open = make(map[*groupState]struct{})
	s.mu.Unlock()

	_ = s.groups.close(err)
	for g := range open {
		_ = g.objects.close(err)
	}
}

// GroupsWriter produces groups that are consumed independently.
type GroupsWriter struct {
	s *groupsState
}

// Append starts the group after the highest one created so far.
func (w *GroupsWriter) Append(priority uint64) (*GroupWriter, error) {
	return w.s.append(priority)
}

// Create starts a group with an explicit id.
func (w *GroupsWriter) Create(g Group) (*GroupWriter, error) {
	return w.s.create(g)
}

// GroupWriter appends objects to one group. Object ids are assigned in write order from zero.
type GroupWriter struct {
	s *groupsState
	g *groupState
}

// ID returns the group id.
func (w *GroupWriter) ID() uint64 { return w.g.ID }

// Priority returns the group priority.
func (w *GroupWriter) Priority() uint64 { return w.g.Priority }

// Write appends an object to the group.
func (w *GroupWriter) Write(payload []byte) error {
	return w.g.objects.push(payload)
}

// Close ends the group. Readers observe io.EOF when err is nil.
func (w *GroupWriter) Close(err error) error {
	return w.s.finish(w.g, err)
}

// GroupsReader yields groups as independent cursors.
type GroupsReader struct {
	s   *groupsState
	pos uint64
}

func (*GroupsReader) Mode() Mode { return ModeGroups }

func (*GroupsReader) isModeReader() {}

// Next returns the next group. It does not wait for the previous group to finish.
func (r *GroupsReader) Next(ctx context.Context) (*GroupReader, error) {
	g, err := r.s.groups.next(ctx, &r.pos)
	if err != nil {
		return nil, err
	}
	return &GroupReader{g: g}, nil
}

// GroupReader reads the objects of one group in write order.
type GroupReader struct {
	g   *groupState
	pos uint64
}

// ID returns the group id.
func (r *GroupReader) ID() uint64 { return r.g.ID }

// Priority returns the group priority.
func (r *GroupReader) Priority() uint64 { return r.g.Priority }

// Next returns the next object, or io.EOF at the end of the group.
func (r *GroupReader) Next(ctx context.Context) (*GroupObject, error) {
	id := r.pos
	payload, err := r.g.objects.next(ctx, &r.pos)
	if err != nil {
		return nil, err
	}
	return &GroupObject{ID: id, Payload: payload}, nil
}

// ReadNext returns the next payload, or io.EOF at the end of the group.
func (r *GroupReader) ReadNext(ctx context.Context) ([]byte, error) {
	obj, err := r.Next(ctx)
	if err != nil {
		return nil, err
	}
	return obj.Payload, nil
}
