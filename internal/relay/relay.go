package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gezibash/moq-relay/internal/cel"
	"github.com/gezibash/moq-relay/internal/observability"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/pkg/logging"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("relay closed")

// AcceptFunc waits for the next inbound connection.
type AcceptFunc func(ctx context.Context) (session.Conn, error)

// DialFunc connects to a peer relay.
type DialFunc func(ctx context.Context, url string) (session.Conn, error)

// ForwardConfig names a peer that every announce is forwarded to, optionally
// restricted by a CEL filter over namespace and target.
type ForwardConfig struct {
	URL    string
	Filter string
}

// Config holds relay configuration.
type Config struct {
	Accept   AcceptFunc
	Dial     DialFunc
	Forwards []ForwardConfig
	Origins  Origins
	Logger   *logging.Logger
	Metrics  *observability.Metrics
}

// Relay accepts peer connections and relays announces and subscribes between
// them. All state is in memory.
type Relay struct {
	cfg     Config
	locals  *Locals
	log     *logging.Logger
	filters []*cel.Filter

	conns      atomic.Int64
	closed     atomic.Bool
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// New validates cfg and compiles the forward filters.
func New(cfg Config) (*Relay, error) {
	if cfg.Accept == nil {
		return nil, errors.New("relay: accept function is required")
	}
	if len(cfg.Forwards) > 0 && cfg.Dial == nil {
		return nil, errors.New("relay: dial function is required for forwards")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(nil)
	}

	filters := make([]*cel.Filter, len(cfg.Forwards))
	for i, fwd := range cfg.Forwards {
		if fwd.Filter == "" {
			continue
		}
		f, err := cel.Compile(fwd.Filter)
		if err != nil {
			return nil, fmt.Errorf("forward %s: %w", fwd.URL, err)
		}
		filters[i] = f
	}

	return &Relay{
		cfg:     cfg,
		locals:  NewLocals(),
		log:     cfg.Logger.WithComponent("relay"),
		filters: filters,
	}, nil
}

// Locals returns the local namespace registry.
func (r *Relay) Locals() *Locals { return r.locals }

// Connections returns the number of open peer sessions.
func (r *Relay) Connections() int64 { return r.conns.Load() }

// Run connects to the forward targets and serves inbound connections until
// ctx is cancelled, Close is called, or a forward session fails.
func (r *Relay) Run(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelFunc = cancel
	r.mu.Unlock()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	targets := make([]Target, 0, len(r.cfg.Forwards))
	for i, fwd := range r.cfg.Forwards {
		sess, err := r.connect(ctx, fwd.URL)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("forward %s: %w", fwd.URL, err)
		}
		g.Go(func() error {
			return r.runForward(ctx, fwd.URL, sess)
		})
		targets = append(targets, Target{Name: fwd.URL, Forward: sess.Publisher(), Filter: r.filters[i]})
	}

	r.log.Info("relay started", "forwards", len(targets))

	g.Go(func() error {
		for {
			conn, err := r.cfg.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil || r.closed.Load() {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				r.serveConn(ctx, conn, targets)
				return nil
			})
		}
	})

	err := g.Wait()
	if r.closed.Load() {
		return nil
	}
	return err
}

// Close stops Run. It is safe to call more than once.
func (r *Relay) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.log.Info("relay closing", "connections", r.conns.Load(), "namespaces", r.locals.Namespaces())

	r.mu.Lock()
	cancel := r.cancelFunc
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Relay) connect(ctx context.Context, url string) (*session.Session, error) {
	conn, err := r.cfg.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	sess, err := session.Connect(ctx, conn, r.sessionOptions())
	if err != nil {
		_ = conn.CloseWithError(session.CodeInternal, "setup failed")
		return nil, err
	}
	return sess, nil
}

func (r *Relay) sessionOptions() session.Options {
	return session.Options{Logger: r.cfg.Logger, Metrics: r.cfg.Metrics}
}

// runForward drives an outbound session. The forward peer may also subscribe
// to any local namespace directly.
func (r *Relay) runForward(ctx context.Context, url string, sess *session.Session) error {
	log := r.log.WithConn(logging.FormatID(sess.ID()))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error {
		return NewProducer(sess.Publisher(), r.locals, r.cfg.Logger, r.cfg.Metrics).Run(ctx)
	})
	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	log.Error("forward session ended", "target", url, "error", err)
	return fmt.Errorf("forward %s: %w", url, err)
}

// serveConn runs one inbound peer: the session itself, a consumer of its
// announces, and a producer for its subscribes.
func (r *Relay) serveConn(ctx context.Context, conn session.Conn, targets []Target) {
	sess, err := session.Accept(ctx, conn, r.sessionOptions())
	if err != nil {
		r.log.Warn("session setup failed", "error", err)
		_ = conn.CloseWithError(session.CodeProtocol, "setup failed")
		return
	}

	log := r.log.WithConn(logging.FormatID(sess.ID()))
	r.conns.Add(1)
	defer r.conns.Add(-1)
	if r.cfg.Metrics != nil {
		defer observability.Track(r.cfg.Metrics.Connections)()
	}
	log.Info("session accepted")

	consumer := NewConsumer(sess.Subscriber(), r.locals, ConsumerOptions{
		Origins: r.cfg.Origins,
		Targets: targets,
		Logger:  r.cfg.Logger.WithConn(logging.FormatID(sess.ID())),
		Metrics: r.cfg.Metrics,
	})
	producer := NewProducer(sess.Publisher(), r.locals, r.cfg.Logger.WithConn(logging.FormatID(sess.ID())), r.cfg.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return producer.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("session ended", "error", err)
		return
	}
	log.Info("session closed")
}
