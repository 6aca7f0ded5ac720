package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gezibash/moq-relay/internal/observability"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/internal/task"
	"github.com/gezibash/moq-relay/pkg/logging"
	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

// Downstream yields subscribes from a peer for namespaces it was not
// explicitly announced.
type Downstream interface {
	Subscribed(ctx context.Context) (*session.Subscribed, error)
}

// Router resolves a namespace to a local broadcast.
type Router interface {
	Route(namespace string) (*serve.TracksReader, bool)
}

// Producer serves a downstream peer's subscribes from the local broadcasts.
type Producer struct {
	remote  Downstream
	locals  Router
	log     *logging.Logger
	metrics *observability.Metrics
}

// NewProducer creates a producer for remote's subscribes.
func NewProducer(remote Downstream, locals Router, logger *logging.Logger, metrics *observability.Metrics) *Producer {
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Producer{
		remote:  remote,
		locals:  locals,
		log:     logger.WithComponent("producer"),
		metrics: metrics,
	}
}

// Run serves subscribes until the session stops delivering them and every
// subscription in flight has ended.
func (p *Producer) Run(ctx context.Context) error {
	tasks := task.NewSet(ctx)
	defer tasks.Close()

	subscribes := task.Feed(tasks.Context(), p.remote.Subscribed)
	var sourceErr error

	for subscribes != nil || tasks.Len() > 0 {
		select {
		case item, ok := <-subscribes:
			if !ok {
				subscribes = nil
				sourceErr = ctx.Err()
				continue
			}
			if item.Err != nil {
				subscribes = nil
				if !errors.Is(item.Err, io.EOF) {
					sourceErr = item.Err
				}
				continue
			}
			sub := item.Value
			tasks.Spawn(sub.Name(), func(ctx context.Context) error {
				return p.serve(ctx, sub)
			})
		case res := <-tasks.Ready():
			tasks.Release()
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				p.log.Warn("failed serving subscribe", "track", res.Name, "error", res.Err)
			}
		}
	}
	return sourceErr
}

func (p *Producer) serve(ctx context.Context, sub *session.Subscribed) (err error) {
	ns, name := sub.Namespace(), sub.Name()
	op, ctx := observability.StartOperation(ctx, p.metrics, "relay.producer.serve",
		observability.Namespace(ns), observability.TrackName(name))
	defer func() { op.End(err) }()

	tracks, ok := p.locals.Route(ns)
	if !ok {
		err := fmt.Errorf("namespace %s: %w", ns, pkgerrors.ErrNotFound)
		sub.Close(err)
		p.log.WithTrack(ns, name).Debug("subscribe for unknown namespace")
		return nil
	}

	track, err := tracks.Subscribe(name)
	if err != nil {
		sub.Close(err)
		return err
	}
	p.log.WithTrack(ns, name).Info("serving subscribe", "id", sub.ID())
	return sub.Serve(ctx, track)
}
