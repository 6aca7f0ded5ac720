package session_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/message"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/internal/transport/memory"
	"github.com/gezibash/moq-relay/pkg/logging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connect returns a running client and server session joined by an in-memory transport.
func connect(t *testing.T) (client, server *session.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(testContext(t))
	a, b := memory.Pair()
	opts := session.Options{Logger: logging.Discard()}

	type result struct {
		s   *session.Session
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		s, err := session.Accept(ctx, b, opts)
		accepted <- result{s, err}
	}()

	client, err := session.Connect(ctx, a, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	server = res.s

	var wg sync.WaitGroup
	for _, s := range []*session.Session{client, server} {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			_ = s.Run(ctx)
		}(s)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return client, server
}

// announce publishes tracks from client and accepts the announce on server.
func announce(t *testing.T, ctx context.Context, client, server *session.Session, tracks *serve.TracksReader) *session.Announced {
	t.Helper()
	go func() { _ = client.Publisher().Announce(ctx, tracks) }()

	a, err := server.Subscriber().Announced(ctx)
	if err != nil {
		t.Fatalf("Announced: %v", err)
	}
	if a.Namespace() != tracks.Namespace() {
		t.Fatalf("announced %q, want %q", a.Namespace(), tracks.Namespace())
	}
	if err := a.Ok(); err != nil {
		t.Fatalf("Ok: %v", err)
	}
	return a
}

// subscribe requests name from the server side and returns a reader of the result.
func subscribe(t *testing.T, ctx context.Context, server *session.Session, namespace, name string) (*serve.TrackReader, <-chan error) {
	t.Helper()
	writer, _, _ := serve.Tracks{Namespace: namespace}.Produce()
	track, err := writer.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	reader := track.Reader()
	done := make(chan error, 1)
	go func() { done <- server.Subscriber().Subscribe(ctx, track) }()
	return reader, done
}

func TestSetupVersionMismatch(t *testing.T) {
	ctx := testContext(t)
	a, b := memory.Pair()

	go func() {
		stream, err := a.OpenStream(ctx)
		if err != nil {
			return
		}
		_ = session.NewWriter(stream).Encode(message.Setup{Version: 1})
	}()

	_, err := session.Accept(ctx, b, session.Options{Logger: logging.Discard()})
	if !errors.Is(err, session.ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestGroupsRoundTrip(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	writer, _, reader := serve.Tracks{Namespace: "live"}.Produce()
	track, err := writer.Create("video")
	if err != nil {
		t.Fatal(err)
	}
	groups, err := track.Groups()
	if err != nil {
		t.Fatal(err)
	}

	announce(t, ctx, client, server, reader)
	remote, _ := subscribe(t, ctx, server, "live", "video")

	g, _ := groups.Append(3)
	_ = g.Write([]byte("base"))
	_ = g.Write([]byte("delta"))
	_ = g.Close(nil)

	mode, err := remote.Mode(ctx)
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	gr, err := mode.(*serve.GroupsReader).Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if gr.ID() != 0 || gr.Priority() != 3 {
		t.Fatalf("group %d priority %d", gr.ID(), gr.Priority())
	}
	for _, want := range []string{"base", "delta"} {
		payload, err := gr.ReadNext(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(payload) != want {
			t.Fatalf("payload = %q, want %q", payload, want)
		}
	}
	if _, err := gr.ReadNext(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected end of group, got %v", err)
	}
}

func TestLocalTrackCloseEndsReceivingGroup(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	writer, _, reader := serve.Tracks{Namespace: "live"}.Produce()
	video, _ := writer.Create("video")
	videoGroups, err := video.Groups()
	if err != nil {
		t.Fatal(err)
	}
	audio, _ := writer.Create("audio")
	audioGroups, err := audio.Groups()
	if err != nil {
		t.Fatal(err)
	}
	announce(t, ctx, client, server, reader)

	local, _, _ := serve.Tracks{Namespace: "live"}.Produce()
	track, err := local.Create("video")
	if err != nil {
		t.Fatal(err)
	}
	remote := track.Reader()
	go func() { _ = server.Subscriber().Subscribe(ctx, track) }()

	g, _ := videoGroups.Append(0)
	_ = g.Write([]byte("first"))

	mode, err := remote.Mode(ctx)
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	gr, err := mode.(*serve.GroupsReader).Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if payload, err := gr.ReadNext(ctx); err != nil || string(payload) != "first" {
		t.Fatalf("ReadNext = %q, %v", payload, err)
	}

	// Objects arriving after the local track is gone fail to write.
	gone := errors.New("subscriber gone")
	_ = track.Close(gone)
	_ = g.Write([]byte("second"))
	_ = g.Close(nil)

	if _, err := gr.ReadNext(ctx); !errors.Is(err, gone) {
		t.Fatalf("group after local close: expected %v, got %v", gone, err)
	}

	other, _ := subscribe(t, ctx, server, "live", "audio")
	ag, _ := audioGroups.Append(0)
	_ = ag.Write([]byte("tone"))
	_ = ag.Close(nil)

	mode, err = other.Mode(ctx)
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	agr, err := mode.(*serve.GroupsReader).Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if payload, err := agr.ReadNext(ctx); err != nil || string(payload) != "tone" {
		t.Fatalf("session stopped serving after a failed group: %q, %v", payload, err)
	}
}

func TestStreamEndsCleanly(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	writer, _, reader := serve.Tracks{Namespace: "live"}.Produce()
	track, _ := writer.Create("chat")
	stream, err := track.Stream(1)
	if err != nil {
		t.Fatal(err)
	}

	announce(t, ctx, client, server, reader)
	remote, done := subscribe(t, ctx, server, "live", "chat")

	for gid := uint64(0); gid < 3; gid++ {
		g, err := stream.Create(gid)
		if err != nil {
			t.Fatal(err)
		}
		_ = g.Write([]byte{byte(gid)})
	}

	mode, err := remote.Mode(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sr := mode.(*serve.StreamReader)

	// Wait until the last group has arrived before ending the track.
	for gid := uint64(0); gid < 3; gid++ {
		g, err := sr.Next(ctx)
		if err != nil {
			t.Fatalf("group %d: %v", gid, err)
		}
		payload, err := g.ReadNext(ctx)
		if err != nil || payload[0] != byte(gid) {
			t.Fatalf("group %d payload %v, %v", gid, payload, err)
		}
	}
	_ = track.Close(nil)

	if err := <-done; err != nil {
		t.Fatalf("Subscribe returned %v, want nil after a clean end", err)
	}
	if _, err := sr.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after the track ended, got %v", err)
	}
}

func TestObjectsAndDatagrams(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	writer, _, reader := serve.Tracks{Namespace: "live"}.Produce()
	objTrack, _ := writer.Create("objects")
	objects, _ := objTrack.Objects()
	dgTrack, _ := writer.Create("datagrams")
	datagrams, _ := dgTrack.Datagrams()

	announce(t, ctx, client, server, reader)
	remoteObjects, _ := subscribe(t, ctx, server, "live", "objects")
	remoteDatagrams, _ := subscribe(t, ctx, server, "live", "datagrams")

	ow, _ := objects.Create(serve.Object{GroupID: 2, ObjectID: 9, Priority: 4})
	_ = ow.Write([]byte("object"))
	_ = ow.Close(nil)

	mode, err := remoteObjects.Mode(ctx)
	if err != nil {
		t.Fatal(err)
	}
	or, err := mode.(*serve.ObjectsReader).Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := or.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if o := or.Object(); o.GroupID != 2 || o.ObjectID != 9 || o.Priority != 4 || string(payload) != "object" {
		t.Fatalf("object %+v payload %q", o, payload)
	}

	// The subscription may not be served yet; keep sending until one lands.
	got := make(chan serve.Datagram, 1)
	go func() {
		mode, err := remoteDatagrams.Mode(ctx)
		if err != nil {
			return
		}
		d, err := mode.(*serve.DatagramsReader).Read(ctx)
		if err == nil {
			got <- d
		}
	}()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		_ = datagrams.Write(serve.Datagram{GroupID: 1, ObjectID: 1, Payload: []byte("dg")})
		select {
		case d := <-got:
			if string(d.Payload) != "dg" {
				t.Fatalf("datagram payload %q", d.Payload)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("no datagram received")
		}
	}
}

func TestSubscribeUnannouncedNamespace(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	go func() {
		sub, err := client.Publisher().Subscribed(ctx)
		if err != nil {
			return
		}
		sub.Close(nil)
	}()

	_, done := subscribe(t, ctx, server, "missing", "video")
	err := <-done
	if !errors.Is(err, &session.Error{Code: session.CodeNotFound}) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnannounceClosesAnnounced(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	_, _, reader := serve.Tracks{Namespace: "live"}.Produce()
	announceCtx, cancel := context.WithCancel(ctx)
	a := announce(t, announceCtx, client, server, reader)

	cancel()
	select {
	case <-a.Closed():
	case <-ctx.Done():
		t.Fatal("announce was not withdrawn")
	}
	if !errors.Is(a.Err(), session.ErrUnannounced) {
		t.Fatalf("Err = %v", a.Err())
	}
}

func TestSessionCloseEndsAnnounced(t *testing.T) {
	ctx := testContext(t)
	client, server := connect(t)

	_ = client.Close(nil)

	_, err := server.Subscriber().Announced(ctx)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after a clean close, got %v", err)
	}
}
