package pubsub

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/pkg/logging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTrack(t *testing.T) *serve.TrackWriter {
	t.Helper()
	writer, _, _ := serve.Tracks{Namespace: "demo"}.Produce()
	track, err := writer.Create("objects")
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestPrinterRows(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Header()
	p.Object(1, 22, 333, 800)

	got := lines(&buf)
	want := []string{
		"group_id  | object_id | priority  | payload len",
		"1         | 22        | 333       | 800       ",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines: %q", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProducerObjects(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	var produced bytes.Buffer
	p := NewProducer(track, NewPrinter(&produced), ProducerConfig{
		ObjectsPerGroup: 3,
		Groups:          2,
		Payload:         []byte("abc"),
		Logger:          logging.Discard(),
	})
	if err := p.RunObjects(ctx); err != nil {
		t.Fatalf("RunObjects: %v", err)
	}

	out := produced.String()
	if strings.Count(out, "producing group") != 2 {
		t.Fatalf("producer output:\n%s", out)
	}
	// Rows are printed by concurrent writers, so only their content is checked.
	for _, row := range []string{
		"0         | 0         | 10000     | 3         ",
		"0         | 2         | 9998      | 3         ",
		"1         | 0         | 9997      | 3         ",
		"1         | 2         | 9995      | 3         ",
	} {
		if !strings.Contains(out, row) {
			t.Errorf("missing row %q in:\n%s", row, out)
		}
	}

	var consumed bytes.Buffer
	if err := NewConsumer(reader, NewPrinter(&consumed)).Run(ctx); err != nil {
		t.Fatalf("consumer: %v", err)
	}
	got := lines(&consumed)
	want := []string{
		"start consuming",
		"consuming group 0",
		"group_id  | object_id | priority  | payload len",
		"0         | 0         | 10000     | 3         ",
		"0         | 1         | 9999      | 3         ",
		"0         | 2         | 9998      | 3         ",
		"consuming group 1",
		"group_id  | object_id | priority  | payload len",
		"1         | 0         | 9997      | 3         ",
		"1         | 1         | 9996      | 3         ",
		"1         | 2         | 9995      | 3         ",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("consumer output:\n%s", consumed.String())
	}
}

func TestProducerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	track := newTrack(t)
	reader := track.Reader()

	var out bytes.Buffer
	p := NewProducer(track, NewPrinter(&out), ProducerConfig{
		ObjectDelay: time.Millisecond,
		Logger:      logging.Discard(),
	})
	done := make(chan error, 1)
	go func() { done <- p.RunObjects(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunObjects = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop")
	}

	// The track is finished cleanly once the producer returns.
	if err := NewConsumer(reader, NewPrinter(&bytes.Buffer{})).Run(testContext(t)); err != nil {
		t.Fatalf("consumer after cancel: %v", err)
	}
}

func TestProducerModeConflict(t *testing.T) {
	track := newTrack(t)
	if _, err := track.Groups(); err != nil {
		t.Fatal(err)
	}
	p := NewProducer(track, NewPrinter(&bytes.Buffer{}), ProducerConfig{Logger: logging.Discard()})
	if err := p.RunObjects(testContext(t)); !errors.Is(err, serve.ErrMode) {
		t.Fatalf("RunObjects = %v, want ErrMode", err)
	}
}

func TestConsumerStream(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	stream, err := track.Stream(1)
	if err != nil {
		t.Fatal(err)
	}
	for id, payloads := range [][]string{{"a", "b"}, {"c"}} {
		g, err := stream.Create(uint64(id))
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range payloads {
			_ = g.Write([]byte(p))
		}
		_ = g.Close(nil)
	}
	_ = track.Close(nil)

	var buf bytes.Buffer
	if err := NewConsumer(reader, NewPrinter(&buf)).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "a\nb\nc\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestConsumerGroups(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	groups, err := track.Groups()
	if err != nil {
		t.Fatal(err)
	}
	g, _ := groups.Append(1)
	for _, p := range []string{"base-", "x", "y"} {
		_ = g.Write([]byte(p))
	}
	_ = g.Close(nil)
	_ = track.Close(nil)

	var buf bytes.Buffer
	if err := NewConsumer(reader, NewPrinter(&buf)).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "base-x\nbase-y\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestConsumerEmptyGroup(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	groups, _ := track.Groups()
	g, _ := groups.Append(1)
	_ = g.Close(nil)

	err := NewConsumer(reader, NewPrinter(&bytes.Buffer{})).Run(ctx)
	if !errors.Is(err, ErrEmptyGroup) {
		t.Fatalf("Run = %v, want ErrEmptyGroup", err)
	}
}

func TestConsumerDatagrams(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	datagrams, err := track.Datagrams()
	if err != nil {
		t.Fatal(err)
	}
	_ = datagrams.Write(serve.Datagram{GroupID: 0, ObjectID: 0, Payload: []byte("ping")})
	_ = datagrams.Write(serve.Datagram{GroupID: 0, ObjectID: 1, Payload: []byte("pong")})
	_ = track.Close(nil)

	var buf bytes.Buffer
	if err := NewConsumer(reader, NewPrinter(&buf)).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "ping\npong\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestConsumerTrackError(t *testing.T) {
	ctx := testContext(t)
	track := newTrack(t)
	reader := track.Reader()

	boom := errors.New("publisher went away")
	_ = track.Close(boom)

	if err := NewConsumer(reader, NewPrinter(&bytes.Buffer{})).Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want %v", err, boom)
	}
}
