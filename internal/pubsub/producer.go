package pubsub

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/pkg/logging"
)

// DefaultPayload is the body of every demo object.
var DefaultPayload = bytes.Repeat([]byte("XXXXXXXX"), 100)

// ProducerConfig tunes the generated traffic.
type ProducerConfig struct {
	ObjectsPerGroup int
	ObjectDelay     time.Duration
	GroupDelay      time.Duration
	// Priority is the priority of the first object; each later object is one more urgent.
	Priority uint64
	// Groups stops the producer after this many groups. Zero runs until cancelled.
	Groups  int
	Payload []byte
	Logger  *logging.Logger
}

func (c *ProducerConfig) defaults() {
	if c.ObjectsPerGroup <= 0 {
		c.ObjectsPerGroup = 1000
	}
	if c.Priority == 0 {
		c.Priority = 10000
	}
	if c.Payload == nil {
		c.Payload = DefaultPayload
	}
	if c.Logger == nil {
		c.Logger = logging.New(nil)
	}
}

// Producer fills a track with objects.
type Producer struct {
	track *serve.TrackWriter
	out   *Printer
	cfg   ProducerConfig
	log   *logging.Logger
}

// NewProducer creates a producer for track that reports each object to out.
func NewProducer(track *serve.TrackWriter, out *Printer, cfg ProducerConfig) *Producer {
	cfg.defaults()
	return &Producer{
		track: track,
		out:   out,
		cfg:   cfg,
		log:   cfg.Logger.WithComponent("producer").WithTrack(track.Namespace(), track.Name()),
	}
}

// RunObjects writes the track in objects mode until ctx is cancelled or the
// configured number of groups is written. Each object is written by its own
// goroutine; the track is closed once they have all finished.
func (p *Producer) RunObjects(ctx context.Context) (err error) {
	objects, err := p.track.Objects()
	if err != nil {
		return fmt.Errorf("objects mode: %w", err)
	}

	var writers errgroup.Group
	defer func() {
		_ = writers.Wait()
		_ = p.track.Close(err)
	}()

	var groupID, objectID uint64
	priority := p.cfg.Priority

	p.out.Title("producing group %d", groupID)
	p.out.Header()

	for {
		if objectID >= uint64(p.cfg.ObjectsPerGroup) {
			if p.cfg.Groups > 0 && groupID+1 >= uint64(p.cfg.Groups) {
				return nil
			}
			groupID++
			objectID = 0
			if err := sleep(ctx, p.cfg.GroupDelay); err != nil {
				return nil
			}
			p.out.Title("producing group %d", groupID)
			p.out.Header()
		}

		o := serve.Object{GroupID: groupID, ObjectID: objectID, Priority: priority}
		w, err := objects.Create(o)
		if err != nil {
			return fmt.Errorf("create object %d/%d: %w", o.GroupID, o.ObjectID, err)
		}
		writers.Go(func() error {
			if err := p.send(w, o); err != nil {
				p.log.Warn("failed sending object", "group", o.GroupID, "object", o.ObjectID, "error", err)
			}
			return nil
		})

		if err := sleep(ctx, p.cfg.ObjectDelay); err != nil {
			return nil
		}
		objectID++
		if priority > 0 {
			priority--
		}
	}
}

func (p *Producer) send(w *serve.ObjectWriter, o serve.Object) error {
	if err := w.Write(p.cfg.Payload); err != nil {
		_ = w.Close(err)
		return err
	}
	if err := w.Close(nil); err != nil {
		return err
	}
	p.out.Object(o.GroupID, o.ObjectID, o.Priority, len(p.cfg.Payload))
	return nil
}

// sleep waits for d, or returns ctx.Err() when ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
