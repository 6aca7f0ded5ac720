package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gezibash/moq-relay/internal/message"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/internal/task"
)

// subscribeBacklog bounds subscribes waiting to be picked up by an announce or by Subscribed.
const subscribeBacklog = 64

// Publisher announces namespaces to the peer and serves the peer's subscribes.
type Publisher struct {
	s *Session

	mu         sync.Mutex
	announces  map[string]*announcing
	subscribed map[uint64]*Subscribed
	unrouted   chan *Subscribed
	closed     bool
	err        error
}

type announcing struct {
	reply    chan error
	requests chan *Subscribed
	active   bool
}

func newPublisher(s *Session) *Publisher {
	return &Publisher{
		s:          s,
		announces:  make(map[string]*announcing),
		subscribed: make(map[uint64]*Subscribed),
		unrouted:   make(chan *Subscribed, subscribeBacklog),
	}
}

// Announce offers the broadcast to the peer and serves the peer's subscribes
// to it until ctx is cancelled, the peer rejects it, or the session ends.
func (p *Publisher) Announce(ctx context.Context, tracks *serve.TracksReader) error {
	ns := tracks.Namespace()
	a := &announcing{reply: make(chan error, 1), requests: make(chan *Subscribed, subscribeBacklog)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.err
	}
	if _, ok := p.announces[ns]; ok {
		p.mu.Unlock()
		return fmt.Errorf("announce %s: %w", ns, ErrDuplicate)
	}
	p.announces[ns] = a
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.announces[ns] == a {
			delete(p.announces, ns)
		}
		p.mu.Unlock()
		for {
			select {
			case sub := <-a.requests:
				sub.Close(&Error{Code: CodeNotFound, Reason: "namespace no longer announced"})
			default:
				return
			}
		}
	}()

	if err := p.s.send(message.Announce{Namespace: ns}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		_ = p.s.send(message.Unannounce{Namespace: ns})
		return ctx.Err()
	case err := <-a.reply:
		if err != nil {
			return fmt.Errorf("announce %s: %w", ns, err)
		}
	}

	tasks := task.NewSet(ctx)
	defer tasks.Close()

	for {
		select {
		case <-ctx.Done():
			_ = p.s.send(message.Unannounce{Namespace: ns})
			return ctx.Err()
		case err := <-a.reply:
			return fmt.Errorf("announce %s: %w", ns, err)
		case sub := <-a.requests:
			tasks.Spawn(sub.Name(), func(ctx context.Context) error {
				return sub.serveFrom(ctx, tracks)
			})
		case res := <-tasks.Ready():
			tasks.Release()
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				p.s.log.WithTrack(ns, res.Name).Debug("serving subscribe failed", "error", res.Err)
			}
		}
	}
}

// Subscribed returns the next subscribe for a namespace this publisher has not announced.
func (p *Publisher) Subscribed(ctx context.Context) (*Subscribed, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case sub, ok := <-p.unrouted:
		if !ok {
			return nil, p.err
		}
		return sub, nil
	}
}

func (p *Publisher) recvAnnounceOk(m message.AnnounceOk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.announces[m.Namespace]; ok && !a.active {
		a.active = true
		a.reply <- nil
	}
}

func (p *Publisher) recvAnnounceError(m message.AnnounceError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.announces[m.Namespace]; ok {
		delete(p.announces, m.Namespace)
		select {
		case a.reply <- &Error{Code: m.Code, Reason: m.Reason}:
		default:
		}
	}
}

func (p *Publisher) recvSubscribe(m message.Subscribe) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if _, ok := p.subscribed[m.ID]; ok {
		p.mu.Unlock()
		return &Error{Code: CodeProtocol, Reason: fmt.Sprintf("duplicate subscribe id %d", m.ID)}
	}
	sub := newSubscribed(p, m)
	p.subscribed[m.ID] = sub

	queue := p.unrouted
	if a, ok := p.announces[m.Namespace]; ok && a.active {
		queue = a.requests
	}
	select {
	case queue <- sub:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		sub.Close(&Error{Code: CodeUnavailable, Reason: "too many pending subscribes"})
	}
	return nil
}

func (p *Publisher) recvUnsubscribe(m message.Unsubscribe) {
	p.mu.Lock()
	sub := p.subscribed[m.ID]
	p.mu.Unlock()
	if sub != nil {
		sub.unsubscribe()
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribed, id)
}

func (p *Publisher) close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = err
	for ns, a := range p.announces {
		delete(p.announces, ns)
		select {
		case a.reply <- err:
		default:
		}
	}
	subs := make([]*Subscribed, 0, len(p.subscribed))
	for _, sub := range p.subscribed {
		subs = append(subs, sub)
	}
	close(p.unrouted)
	p.mu.Unlock()

	for _, sub := range subs {
		sub.unsubscribe()
	}
}
