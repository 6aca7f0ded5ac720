// Package relay accepts announces from upstream peers, makes them routable
// locally, and forwards them and the resulting subscribes between peers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gezibash/moq-relay/internal/cel"
	"github.com/gezibash/moq-relay/internal/observability"
	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/internal/task"
	"github.com/gezibash/moq-relay/pkg/logging"
)

// Remote is the upstream side of a session: the announces it makes and the
// subscribes this relay sends back to it.
type Remote interface {
	Announced(ctx context.Context) (*session.Announced, error)
	Subscribe(ctx context.Context, track *serve.TrackWriter) error
}

// Registry makes broadcasts routable by namespace.
type Registry interface {
	Register(tracks *serve.TracksReader) (*Registration, error)
}

// Forward offers a broadcast to another peer until ctx is cancelled.
type Forward interface {
	Announce(ctx context.Context, tracks *serve.TracksReader) error
}

// Refresh keeps an origin entry alive while it runs.
type Refresh interface {
	Run(ctx context.Context) error
}

// Origins records this relay as the origin of a namespace.
type Origins interface {
	SetOrigin(ctx context.Context, namespace string) (Refresh, error)
}

// Target is a peer every accepted announce is forwarded to.
type Target struct {
	Name    string
	Forward Forward
	Filter  *cel.Filter
}

// DirectoryOrigins adapts an origin directory to Origins.
func DirectoryOrigins(d *origin.Directory) Origins {
	if d == nil {
		return nil
	}
	return directoryOrigins{d}
}

type directoryOrigins struct{ d *origin.Directory }

func (o directoryOrigins) SetOrigin(ctx context.Context, ns string) (Refresh, error) {
	return o.d.SetOrigin(ctx, ns)
}

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Origins Origins
	Targets []Target
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Consumer serves every namespace announced by one upstream peer.
type Consumer struct {
	remote  Remote
	locals  Registry
	origins Origins
	targets []Target
	log     *logging.Logger
	metrics *observability.Metrics
}

// NewConsumer creates a consumer of remote's announces.
func NewConsumer(remote Remote, locals Registry, opts ConsumerOptions) *Consumer {
	log := opts.Logger
	if log == nil {
		log = logging.New(nil)
	}
	return &Consumer{
		remote:  remote,
		locals:  locals,
		origins: opts.Origins,
		targets: opts.Targets,
		log:     log.WithComponent("consumer"),
		metrics: opts.Metrics,
	}
}

// Run serves announces until the remote stops producing them and every
// announce being served has finished. A failed announce is logged and does
// not end Run. Run returns nil when the announce source ends cleanly, or its
// error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	tasks := task.NewSet(ctx)
	defer tasks.Close()

	announces := task.Feed(tasks.Context(), c.remote.Announced)
	var sourceErr error

	for announces != nil || tasks.Len() > 0 {
		select {
		case item, ok := <-announces:
			if !ok {
				announces = nil
				sourceErr = ctx.Err()
				continue
			}
			if item.Err != nil {
				announces = nil
				if !errors.Is(item.Err, io.EOF) {
					sourceErr = item.Err
				}
				continue
			}
			announce := item.Value
			c.log.WithNamespace(announce.Namespace()).Info("serving announce")
			tasks.Spawn(announce.Namespace(), func(ctx context.Context) error {
				return c.serve(ctx, announce)
			})
		case res := <-tasks.Ready():
			tasks.Release()
			if res.Err != nil {
				c.metrics.Error("relay.consumer.serve", "announce")
				c.log.WithNamespace(res.Name).Warn("failed serving announce", "error", res.Err)
			}
		}
	}
	return sourceErr
}

// serve runs one announce: it buffers the namespace, registers it, accepts
// the announce, forwards it, and forwards subscribes upstream until the
// announce ends. Every task it started is cancelled and awaited on return.
func (c *Consumer) serve(ctx context.Context, announce *session.Announced) (err error) {
	ns := announce.Namespace()
	log := c.log.WithNamespace(ns)

	op, ctx := observability.StartOperation(ctx, c.metrics, "relay.consumer.serve", observability.Namespace(ns))
	defer func() { op.End(err) }()
	defer func() { announce.Close(err) }()

	writer, request, reader := serve.Tracks{Namespace: ns}.Produce()
	defer func() { writer.Close(err) }()

	tasks := task.NewSet(ctx)
	defer tasks.Close()

	if c.origins != nil {
		refresh, err := c.origins.SetOrigin(ctx, ns)
		if err != nil {
			return fmt.Errorf("set origin: %w", err)
		}
		tasks.Spawn("origin refresh", func(ctx context.Context) error {
			if err := refresh.Run(ctx); err != nil {
				return fmt.Errorf("failed refreshing origin: %w", err)
			}
			return nil
		})
	}

	registration, err := c.locals.Register(reader.Clone())
	if err != nil {
		return err
	}
	defer registration.Close()

	if err := announce.Ok(); err != nil {
		return err
	}
	if c.metrics != nil {
		defer observability.Track(c.metrics.Announces)()
	}

	for _, target := range c.targets {
		if !target.Filter.Match(ns, target.Name) {
			log.Debug("announce filtered", "target", target.Name, "filter", target.Filter.String())
			continue
		}
		tracks := reader.Clone()
		tasks.Spawn("forward "+target.Name, func(ctx context.Context) error {
			c.forward(ctx, target, tracks)
			return nil
		})
	}

	requests := task.Feed(tasks.Context(), request.Next)

	for {
		select {
		case <-announce.Closed():
			err := announce.Err()
			if !errors.Is(err, session.ErrUnannounced) && !errors.Is(err, io.EOF) {
				return err
			}
			log.Info("announce ended", "reason", err)
			return nil
		case item, ok := <-requests:
			if !ok || item.Err != nil {
				requests = nil
				continue
			}
			track := item.Value
			tasks.Spawn(track.Name(), func(ctx context.Context) error {
				c.subscribe(ctx, writer, track)
				return nil
			})
		case res := <-tasks.Ready():
			tasks.Release()
			if res.Err != nil {
				return res.Err
			}
		}
	}
}

func (c *Consumer) forward(ctx context.Context, target Target, tracks *serve.TracksReader) {
	log := c.log.WithNamespace(tracks.Namespace())
	log.Info("forwarding announce", "target", target.Name)

	op, ctx := observability.StartOperation(ctx, c.metrics, "relay.consumer.forward",
		observability.Namespace(tracks.Namespace()))
	err := target.Forward.Announce(ctx, tracks)
	op.End(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		c.metrics.Error("relay.consumer.forward", "announce")
		log.Warn("error in forwarding announce", "target", target.Name, "error", err)
	}
}

// subscribe fills track from upstream, then frees its slot so the next
// request for the name subscribes again. A slot already reused by a newer
// request is kept.
func (c *Consumer) subscribe(ctx context.Context, writer *serve.TracksWriter, track *serve.TrackWriter) {
	log := c.log.WithTrack(track.Namespace(), track.Name())
	log.Info("forwarding subscribe")
	if c.metrics != nil {
		defer observability.Track(c.metrics.Subscriptions)()
	}

	op, ctx := observability.StartOperation(ctx, c.metrics, "relay.consumer.subscribe",
		observability.Namespace(track.Namespace()), observability.TrackName(track.Name()))
	err := c.remote.Subscribe(ctx, track)
	op.End(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		c.metrics.Error("relay.consumer.subscribe", "subscribe")
		log.Warn("failed forwarding subscribe", "error", err)
	}
	writer.Remove(track)
}
