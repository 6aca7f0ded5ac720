package serve

import (
	"context"
	"io"
	"sync"
)

// Object addresses one object in Objects mode.
type Object struct {
	GroupID  uint64
	ObjectID uint64
	Priority uint64
}

type objectState struct {
	Object

	mu      sync.Mutex
	payload []byte
	written bool
	closed  bool
	err     error
	done    chan struct{}
}

func (o *objectState) finish(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	o.closed = true
	o.err = err
	close(o.done)
	return nil
}

type objectsState struct {
	objects *ring[*objectState]

	mu     sync.Mutex
	closed bool
	// open holds objects not finished yet, including evicted ones.
	open map[*objectState]struct{}
}

func newObjectsState(window int) *objectsState {
	return &objectsState{
		objects: newRing[*objectState](window),
		open:    make(map[*objectState]struct{}),
	}
}

func (s *objectsState) finish(o *objectState, err error) error {
	s.mu.Lock()
	delete(s.open, o)
	s.mu.Unlock()
	return o.finish(err)
}

func (s *objectsState) reader() ModeReader {
	return &ObjectsReader{s: s, latest: make(map[uint64]uint64)}
}

func (s *objectsState) close(err error) {
	s.mu.Lock()
	s.closed = true
	open := s.open
	s.open = make(map[*objectState]struct{})
	s.mu.Unlock()

	_ = s.objects.close(err)
	for o := range open {
		_ = o.finish(err)
	}
}

// ObjectsWriter produces objects that carry their own group and object ids.
// Objects may be created and written concurrently.
type ObjectsWriter struct {
	s *objectsState
}

// Create publishes an object header. The returned writer accepts one payload.
func (w *ObjectsWriter) Create(o Object) (*ObjectWriter, error) {
	st := &objectState{Object: o, done: make(chan struct{})}

	w.s.mu.Lock()
	if w.s.closed {
		w.s.mu.Unlock()
		return nil, ErrClosed
	}
	w.s.open[st] = struct{}{}
	w.s.mu.Unlock()

	if err := w.s.objects.push(st); err != nil {
		_ = w.s.finish(st, err)
		return nil, err
	}
	return &ObjectWriter{s: w.s, o: st}, nil
}

// ObjectWriter writes the payload of a single object.
type ObjectWriter struct {
	s *objectsState
	o *objectState
}

// Write sets the object payload. A second call returns ErrDuplicate.
func (w *ObjectWriter) Write(payload []byte) error {
	w.o.mu.Lock()
	defer w.o.mu.Unlock()

	if w.o.closed {
		return ErrClosed
	}
	if w.o.written {
		return ErrDuplicate
	}
	w.o.payload = payload
	w.o.written = true
	return nil
}

// Close finishes the object. A non-nil err aborts it for readers.
func (w *ObjectWriter) Close(err error) error {
	return w.s.finish(w.o, err)
}

// ObjectsReader yields objects in creation order. Within a group it never
// yields an object id lower than one it already returned.
type ObjectsReader struct {
	s      *objectsState
	pos    uint64
	latest map[uint64]uint64
	newest uint64
}

func (*ObjectsReader) Mode() Mode { return ModeObjects }

func (*ObjectsReader) isModeReader() {}

// groupHistory bounds how many groups behind the newest one the reader remembers.
const groupHistory = 32

// Next returns the next object header.
func (r *ObjectsReader) Next(ctx context.Context) (*ObjectReader, error) {
	for {
		o, err := r.s.objects.next(ctx, &r.pos)
		if err != nil {
			return nil, err
		}
		if last, ok := r.latest[o.GroupID]; ok && o.ObjectID < last {
			continue
		}
		r.latest[o.GroupID] = o.ObjectID
		if o.GroupID > r.newest {
			r.newest = o.GroupID
			r.prune()
		}
		return &ObjectReader{o: o}, nil
	}
}

func (r *ObjectsReader) prune() {
	if r.newest < groupHistory {
		return
	}
	for g := range r.latest {
		if g < r.newest-groupHistory {
			delete(r.latest, g)
		}
	}
}

// ObjectReader reads one object.
type ObjectReader struct {
	o *objectState
}

// Object returns the object's ids and priority.
func (r *ObjectReader) Object() Object { return r.o.Object }

// ReadAll waits for the object to be finished and returns its payload.
func (r *ObjectReader) ReadAll(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.o.done:
	}

	r.o.mu.Lock()
	defer r.o.mu.Unlock()

	if r.o.err != nil && r.o.err != io.EOF {
		return nil, r.o.err
	}
	return r.o.payload, nil
}
