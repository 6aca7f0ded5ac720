package serve

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Mode is the framing discipline a track delivers its objects with.
type Mode int

const (
	ModeStream Mode = iota + 1
	ModeGroups
	ModeObjects
	ModeDatagrams
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeGroups:
		return "groups"
	case ModeObjects:
		return "objects"
	case ModeDatagrams:
		return "datagrams"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeReader is the consumer side of a track once its mode is known.
// It is one of *StreamReader, *GroupsReader, *ObjectsReader or *DatagramsReader.
type ModeReader interface {
	Mode() Mode
	isModeReader()
}

// modeState is the shared buffer behind a selected mode.
type modeState interface {
	reader() ModeReader
	close(err error)
}

type track struct {
	namespace string
	name      string

	mu       sync.Mutex
	mode     Mode
	state    modeState
	selected chan struct{}
	closed   bool
	err      error
	onClose  func(*track)
}

func newTrack(namespace, name string, onClose func(*track)) *track {
	return &track{
		namespace: namespace,
		name:      name,
		selected:  make(chan struct{}),
		onClose:   onClose,
	}
}

func (t *track) selectMode(m Mode, s modeState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.mode != 0 {
		return fmt.Errorf("%w: track is %s, requested %s", ErrMode, t.mode, m)
	}
	t.mode = m
	t.state = s
	close(t.selected)
	return nil
}

func (t *track) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// TrackWriter is the single producer of a track.
type TrackWriter struct {
	t *track
}

// Namespace returns the broadcast namespace of the track.
func (w *TrackWriter) Namespace() string { return w.t.namespace }

// Name returns the track name.
func (w *TrackWriter) Name() string { return w.t.name }

// Stream selects Stream mode: one ordered sequence of groups at a fixed priority.
func (w *TrackWriter) Stream(priority uint64) (*StreamWriter, error) {
	s := newGroupsState(DefaultGroupWindow)
	if err := w.t.selectMode(ModeStream, &streamState{groups: s, priority: priority}); err != nil {
		return nil, err
	}
	return &StreamWriter{s: s, priority: priority}, nil
}

// Groups selects Groups mode: groups are delivered independently.
func (w *TrackWriter) Groups() (*GroupsWriter, error) {
	s := newGroupsState(DefaultGroupWindow)
	if err := w.t.selectMode(ModeGroups, s); err != nil {
		return nil, err
	}
	return &GroupsWriter{s: s}, nil
}

// Objects selects Objects mode: a flat sequence of objects carrying their own ids.
func (w *TrackWriter) Objects() (*ObjectsWriter, error) {
	s := newObjectsState(DefaultObjectWindow)
	if err := w.t.selectMode(ModeObjects, s); err != nil {
		return nil, err
	}
	return &ObjectsWriter{s: s}, nil
}

// Datagrams selects Datagrams mode: best-effort independent units.
func (w *TrackWriter) Datagrams() (*DatagramsWriter, error) {
	s := &datagramsState{datagrams: newRing[Datagram](DefaultDatagramWindow)}
	if err := w.t.selectMode(ModeDatagrams, s); err != nil {
		return nil, err
	}
	return &DatagramsWriter{s: s}, nil
}

// Close ends the track and releases its name. Readers observe io.EOF when err
// is nil and err otherwise.
func (w *TrackWriter) Close(err error) error {
	t := w.t
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if err == nil {
		err = io.EOF
	}
	t.closed = true
	t.err = err
	state := t.state
	if t.mode == 0 {
		close(t.selected)
	}
	t.mu.Unlock()

	if state != nil {
		state.close(err)
	}
	if t.onClose != nil {
		t.onClose(t)
	}
	return nil
}

// Reader returns a new reader for the track.
func (w *TrackWriter) Reader() *TrackReader {
	return &TrackReader{t: w.t}
}

// TrackReader consumes a track. Clones share the producer but keep independent cursors.
type TrackReader struct {
	t *track
}

// Namespace returns the broadcast namespace of the track.
func (r *TrackReader) Namespace() string { return r.t.namespace }

// Name returns the track name.
func (r *TrackReader) Name() string { return r.t.name }

// Clone returns another reader of the same track.
func (r *TrackReader) Clone() *TrackReader {
	return &TrackReader{t: r.t}
}

// Mode blocks until the producer selects a delivery mode and returns a reader
// for it. If the track closes first the close error is returned.
func (r *TrackReader) Mode(ctx context.Context) (ModeReader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.t.selected:
	}

	r.t.mu.Lock()
	state, err := r.t.state, r.t.err
	r.t.mu.Unlock()

	if state == nil {
		return nil, err
	}
	return state.reader(), nil
}
