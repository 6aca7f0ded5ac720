// Package serve implements the broadcast buffers between one producer and many
// consumers of a namespace's tracks.
package serve

import (
	"context"
	"fmt"
	"sync"
)

// Tracks names a broadcast.
type Tracks struct {
	Namespace string
}

// Produce creates the broadcast. The writer creates tracks, the request stream
// yields tracks that readers asked for before they existed, and the reader
// subscribes to tracks.
func (t Tracks) Produce() (*TracksWriter, *TracksRequest, *TracksReader) {
	s := &tracksState{
		namespace: t.Namespace,
		tracks:    make(map[string]*track),
		requests:  newQueue[*TrackWriter](),
	}
	return &TracksWriter{s: s}, &TracksRequest{s: s}, &TracksReader{s: s}
}

type tracksState struct {
	namespace string

	mu       sync.Mutex
	tracks   map[string]*track
	closed   bool
	requests *queue[*TrackWriter]
}

func (s *tracksState) create(name string) (*TrackWriter, error) {
	if t, ok := s.tracks[name]; ok && !t.isClosed() {
		return nil, fmt.Errorf("track %s/%s: %w", s.namespace, name, ErrDuplicate)
	}
	t := newTrack(s.namespace, name, s.release)
	s.tracks[name] = t
	return &TrackWriter{t: t}, nil
}

// release drops the slot of a closed track unless it was already reused.
func (s *tracksState) release(t *track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks[t.name] == t {
		delete(s.tracks, t.name)
	}
}

func (s *tracksState) close(err error) {
	s.mu.Lock()
	s.closed = true
	pending := s.requests.close(err)
	s.mu.Unlock()

	for _, w := range pending {
		_ = w.Close(ErrNotFound)
	}
}

// TracksWriter creates the tracks of a broadcast.
type TracksWriter struct {
	s *tracksState
}

// Namespace returns the broadcast namespace.
func (w *TracksWriter) Namespace() string { return w.s.namespace }

// Create starts a track. It fails with ErrDuplicate while another writer for
// the name is live.
func (w *TracksWriter) Create(name string) (*TrackWriter, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	if w.s.closed {
		return nil, ErrClosed
	}
	return w.s.create(name)
}

// Remove releases the name held by track so it can be created or requested
// again. A name already taken over by a newer writer is left alone.
func (w *TracksWriter) Remove(track *TrackWriter) {
	w.s.release(track.t)
}

// Close stops the broadcast from accepting new tracks and requests. Requested
// tracks not yet returned by TracksRequest.Next are closed with ErrNotFound;
// other tracks are ended by their own writers.
func (w *TracksWriter) Close(err error) {
	w.s.close(err)
}

// TracksRequest yields writers for tracks requested through the reader.
type TracksRequest struct {
	s *tracksState
}

// Next returns the next requested track. It returns io.EOF once the broadcast is closed.
func (r *TracksRequest) Next(ctx context.Context) (*TrackWriter, error) {
	return r.s.requests.pop(ctx)
}

// Close stops accepting requests. Requested tracks not yet returned by Next
// are closed with ErrNotFound.
func (r *TracksRequest) Close(err error) {
	r.s.close(err)
}

// TracksReader subscribes to the tracks of a broadcast.
type TracksReader struct {
	s *tracksState
}

// Namespace returns the broadcast namespace.
func (r *TracksReader) Namespace() string { return r.s.namespace }

// Clone returns another reader of the same broadcast.
func (r *TracksReader) Clone() *TracksReader {
	return &TracksReader{s: r.s}
}

// Subscribe returns a reader for the named track. A live track is shared;
// otherwise the track is created and its writer is queued on the request stream.
func (r *TracksReader) Subscribe(name string) (*TrackReader, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.tracks[name]; ok && !t.isClosed() {
		return &TrackReader{t: t}, nil
	}
	if r.s.closed {
		return nil, fmt.Errorf("track %s/%s: %w", r.s.namespace, name, ErrNotFound)
	}

	delete(r.s.tracks, name)
	w, err := r.s.create(name)
	if err != nil {
		return nil, err
	}
	if err := r.s.requests.push(w); err != nil {
		delete(r.s.tracks, name)
		return nil, fmt.Errorf("track %s/%s: %w", r.s.namespace, name, ErrNotFound)
	}
	return w.Reader(), nil
}
