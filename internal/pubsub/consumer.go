package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gezibash/moq-relay/internal/serve"
)

// ErrEmptyGroup is returned in groups mode when a group ends before its first object.
var ErrEmptyGroup = errors.New("empty group")

// Consumer prints everything received on a track.
type Consumer struct {
	track *serve.TrackReader
	out   *Printer
}

// NewConsumer creates a consumer for track.
func NewConsumer(track *serve.TrackReader, out *Printer) *Consumer {
	return &Consumer{track: track, out: out}
}

// Run waits for the track's mode and prints its contents until the track
// ends. A cleanly finished track returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	mode, err := c.track.Mode(ctx)
	if err != nil {
		return fmt.Errorf("track mode: %w", err)
	}

	switch m := mode.(type) {
	case *serve.StreamReader:
		err = c.stream(ctx, m)
	case *serve.GroupsReader:
		err = c.groups(ctx, m)
	case *serve.ObjectsReader:
		err = c.objects(ctx, m)
	case *serve.DatagramsReader:
		err = c.datagrams(ctx, m)
	default:
		return fmt.Errorf("unsupported mode %T", mode)
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Consumer) stream(ctx context.Context, s *serve.StreamReader) error {
	for {
		g, err := s.Next(ctx)
		if err != nil {
			return err
		}
		for {
			payload, err := g.ReadNext(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			c.out.Text(payload)
		}
	}
}

func (c *Consumer) groups(ctx context.Context, groups *serve.GroupsReader) error {
	for {
		g, err := groups.Next(ctx)
		if err != nil {
			return err
		}
		base, err := g.ReadNext(ctx)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("group %d: %w", g.ID(), ErrEmptyGroup)
		}
		if err != nil {
			return fmt.Errorf("group %d: first object: %w", g.ID(), err)
		}
		for {
			payload, err := g.ReadNext(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			c.out.Text(base, payload)
		}
	}
}

func (c *Consumer) objects(ctx context.Context, objects *serve.ObjectsReader) error {
	c.out.Title("start consuming")

	var (
		prev    uint64
		started bool
	)
	for {
		r, err := objects.Next(ctx)
		if err != nil {
			return err
		}
		o := r.Object()
		if !started || o.GroupID != prev {
			started = true
			prev = o.GroupID
			c.out.Title("consuming group %d", o.GroupID)
			c.out.Header()
		}
		payload, err := r.ReadAll(ctx)
		if err != nil {
			return fmt.Errorf("object %d/%d: %w", o.GroupID, o.ObjectID, err)
		}
		c.out.Object(o.GroupID, o.ObjectID, o.Priority, len(payload))
	}
}

func (c *Consumer) datagrams(ctx context.Context, datagrams *serve.DatagramsReader) error {
	for {
		d, err := datagrams.Read(ctx)
		if err != nil {
			return err
		}
		c.out.Text(d.Payload)
	}
}
