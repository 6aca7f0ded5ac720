package memory

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/session"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBidiStream(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair()

	local, err := a.OpenStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	remote, err := b.AcceptStream(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Both sides can write before either reads.
	if _, err := local.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, err := remote.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(remote, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("remote read %q, %v", buf, err)
	}
	if _, err := io.ReadFull(local, buf); err != nil || string(buf) != "pong" {
		t.Fatalf("local read %q, %v", buf, err)
	}

	_ = local.Close()
	if _, err := remote.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
}

func TestUniStreamKeepsDataAfterFin(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair()

	send, err := a.OpenUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = send.Write([]byte("tail"))
	_ = send.Close()

	recv, err := b.AcceptUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(recv)
	if err != nil || string(data) != "tail" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}
}

func TestCloseWithError(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair()

	stream, err := a.OpenUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	recv, _ := b.AcceptUniStream(ctx)

	_ = b.CloseWithError(session.CodeInternal, "boom")

	if _, err := stream.Write([]byte("x")); !errors.Is(err, &session.Error{Code: session.CodeInternal}) {
		t.Fatalf("write after close: %v", err)
	}
	if _, err := recv.Read(make([]byte, 1)); err == nil {
		t.Fatal("read after close should fail")
	}
	if _, err := a.AcceptStream(ctx); !errors.Is(err, &session.Error{Code: session.CodeInternal}) {
		t.Fatalf("accept after close: %v", err)
	}
	select {
	case <-a.Closed():
	default:
		t.Fatal("both ends should observe the close")
	}
}

func TestCleanCloseIsEOF(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair()
	_ = a.CloseWithError(session.CodeOK, "")

	if _, err := b.ReceiveDatagram(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := b.SendDatagram([]byte("x")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestDatagrams(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair()

	p := []byte("frame")
	if err := a.SendDatagram(p); err != nil {
		t.Fatal(err)
	}
	p[0] = 'X'

	got, err := b.ReceiveDatagram(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "frame" {
		t.Fatalf("datagram = %q, sender buffer must be copied", got)
	}
}
