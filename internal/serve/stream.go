package serve

import (
	"context"
	"sync"
)

type streamState struct {
	groups   *groupsState
	priority uint64
}

func (s *streamState) reader() ModeReader {
	return &StreamReader{s: s.groups, priority: s.priority}
}

func (s *streamState) close(err error) {
	s.groups.close(err)
}

// StreamWriter produces one ordered sequence of groups.
type StreamWriter struct {
	s        *groupsState
	priority uint64

	mu      sync.Mutex
	current *GroupWriter
}

// Priority returns the priority of the stream.
func (w *StreamWriter) Priority() uint64 { return w.priority }

// Create starts a new group and finishes the previous one. Group ids must be
// supplied in increasing order.
func (w *StreamWriter) Create(groupID uint64) (*GroupWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil {
		_ = w.current.Close(nil)
	}
	g, err := w.s.create(Group{ID: groupID, Priority: w.priority})
	if err != nil {
		return nil, err
	}
	w.current = g
	return g, nil
}

// StreamReader yields the groups of a stream in order.
type StreamReader struct {
	s        *groupsState
	priority uint64
	pos      uint64
}

func (*StreamReader) Mode() Mode { return ModeStream }

func (*StreamReader) isModeReader() {}

// Priority returns the priority of the stream.
func (r *StreamReader) Priority() uint64 { return r.priority }

// Next returns the next group in order.
func (r *StreamReader) Next(ctx context.Context) (*GroupReader, error) {
	g, err := r.s.groups.next(ctx, &r.pos)
	if err != nil {
		return nil, err
	}
	return &GroupReader{g: g}, nil
}
