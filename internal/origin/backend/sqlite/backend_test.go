package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/origin/origintest"
	"github.com/gezibash/moq-relay/internal/storage"
)

func TestBackendContract(t *testing.T) {
	origintest.RunBackendTests(t, func(t *testing.T) origin.Backend {
		t.Helper()
		be, err := NewFactory(context.Background(), map[string]string{
			KeyPath: filepath.Join(t.TempDir(), "origins.db"),
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { be.Close() })
		return be
	})
}

func newClockedBackend(t *testing.T, now *time.Time) *Backend {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "clock.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		t.Fatal(err)
	}
	be := NewWithDB(db, func() time.Time { return *now })
	t.Cleanup(func() { be.Close() })
	return be
}

func TestExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	be := newClockedBackend(t, &now)

	if err := be.Claim(ctx, "demo", "https://a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := be.Claim(ctx, "other", "https://a", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := be.Claim(ctx, "demo", "https://b", time.Minute); !errors.Is(err, origin.ErrDuplicate) {
		t.Fatalf("Claim held = %v, want ErrDuplicate", err)
	}

	now = now.Add(time.Minute)
	if _, err := be.Get(ctx, "demo"); !errors.Is(err, origin.ErrNotFound) {
		t.Fatalf("Get expired = %v", err)
	}
	if err := be.Claim(ctx, "demo", "https://b", time.Minute); err != nil {
		t.Fatalf("Claim expired: %v", err)
	}

	now = now.Add(time.Minute)
	n, err := be.DeleteExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v; want 1", n, err)
	}
	if got, _ := be.Get(ctx, "other"); got != "https://a" {
		t.Fatalf("live entry swept, got %q", got)
	}
}

func TestFactoryConfigErrors(t *testing.T) {
	var ce *storage.ConfigError
	if _, err := NewFactory(context.Background(), map[string]string{KeyPath: ""}); !errors.As(err, &ce) {
		t.Fatalf("empty path: expected ConfigError, got %v", err)
	}
	cfg := map[string]string{KeyPath: filepath.Join(t.TempDir(), "x.db"), KeyBusyTimeout: "soon"}
	if _, err := NewFactory(context.Background(), cfg); !errors.As(err, &ce) {
		t.Fatalf("bad busy timeout: expected ConfigError, got %v", err)
	}
}
