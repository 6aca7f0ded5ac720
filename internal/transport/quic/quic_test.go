package quic

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/pkg/logging"
)

func TestHostPort(t *testing.T) {
	tests := []struct {
		url, addr, host string
	}{
		{"https://relay.example:4443", "relay.example:4443", "relay.example"},
		{"https://relay.example", "relay.example:443", "relay.example"},
		{"moq://127.0.0.1:4443/live", "127.0.0.1:4443", "127.0.0.1"},
	}
	for _, tt := range tests {
		addr, host, err := hostPort(tt.url)
		if err != nil {
			t.Fatalf("hostPort(%q): %v", tt.url, err)
		}
		if addr != tt.addr || host != tt.host {
			t.Errorf("hostPort(%q) = %q, %q", tt.url, addr, host)
		}
	}
	if _, _, err := hostPort("relay.example"); err == nil {
		t.Error("a url without a scheme has no host and should fail")
	}
}

func TestWithALPN(t *testing.T) {
	conf := withALPN(nil)
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != ALPN {
		t.Fatalf("NextProtos = %v", conf.NextProtos)
	}
	again := withALPN(conf)
	if len(again.NextProtos) != 1 {
		t.Fatalf("ALPN added twice: %v", again.NextProtos)
	}
}

func TestMapError(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	other := errors.New("other")
	if !errors.Is(mapError(other), other) {
		t.Fatal("unrelated errors pass through")
	}
}

func TestSessionOverLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverTLS, err := ServerTLS("", "", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	ln, err := Listen("127.0.0.1:0", serverTLS, Config{IdleTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		s, err := session.Accept(ctx, conn, session.Options{Logger: logging.Discard()})
		if err != nil {
			accepted <- err
			return
		}
		accepted <- s.Run(ctx)
	}()

	conn, err := Dial(ctx, "https://"+ln.Addr().String(), ClientTLS(true), Config{IdleTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client, err := session.Connect(ctx, conn, session.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Close(nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-accepted:
		if err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("server session ended with %v", err)
		}
	case <-ctx.Done():
		t.Fatal("server session did not end")
	}
}
