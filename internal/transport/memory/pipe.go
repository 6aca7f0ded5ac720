package memory

import (
	"bytes"
	"io"
	"sync"
)

// pipe is a buffered one-way byte stream. Writes never block, so two peers
// replying to each other on the same control stream cannot deadlock.
type pipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	notify chan struct{}
	fin    bool
	err    error
}

func newPipe() *pipe {
	return &pipe{notify: make(chan struct{})}
}

func (p *pipe) wake() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *pipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return 0, err
		}
		if p.fin {
			p.mu.Unlock()
			return 0, io.EOF
		}
		notify := p.notify
		p.mu.Unlock()
		<-notify
	}
}

func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	if p.fin {
		return 0, io.ErrClosedPipe
	}
	p.buf.Write(b)
	p.wake()
	return len(b), nil
}

// Close ends the stream. Buffered bytes remain readable.
func (p *pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fin {
		p.fin = true
		p.wake()
	}
	return nil
}

// abort fails both ends and discards buffered bytes.
func (p *pipe) abort(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
		p.buf.Reset()
		p.wake()
	}
}
