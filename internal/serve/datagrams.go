package serve

import "context"

// Datagram is a best-effort object.
type Datagram struct {
	GroupID  uint64
	ObjectID uint64
	Priority uint64
	Payload  []byte
}

type datagramsState struct {
	datagrams *ring[Datagram]
}

func (s *datagramsState) reader() ModeReader {
	return &DatagramsReader{s: s}
}

func (s *datagramsState) close(err error) {
	_ = s.datagrams.close(err)
}

// DatagramsWriter produces datagrams.
type DatagramsWriter struct {
	s *datagramsState
}

// Write publishes a datagram.
func (w *DatagramsWriter) Write(d Datagram) error {
	return w.s.datagrams.push(d)
}

// DatagramsReader receives datagrams. Datagrams evicted before it reads them are lost.
type DatagramsReader struct {
	s   *datagramsState
	pos uint64
}

func (*DatagramsReader) Mode() Mode { return ModeDatagrams }

func (*DatagramsReader) isModeReader() {}

// Read returns the next datagram.
func (r *DatagramsReader) Read(ctx context.Context) (Datagram, error) {
	return r.s.datagrams.next(ctx, &r.pos)
}
