// Package badger provides a BadgerDB-backed origin directory backend.
// Expiry uses badger's native entry TTL.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/storage"
)

const prefixOrigin = "origin/"

const (
	KeyPath          = "path"
	KeySyncWrites    = "sync_writes"
	KeyMemTableSize  = "mem_table_size"
	KeyInMemory      = "in_memory"
	KeyMaxTxnRetries = "max_txn_retries"
)

func init() {
	origin.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:          "~/.moq/origins",
		KeySyncWrites:    "false",
		KeyMemTableSize:  strconv.FormatInt(16<<20, 10),
		KeyInMemory:      "false",
		KeyMaxTxnRetries: "5",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (origin.Backend, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	retries, err := storage.GetInt(config, KeyMaxTxnRetries, 5)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMaxTxnRetries, config[KeyMaxTxnRetries], err.Error())
	}

	memTableSize, err := storage.GetInt64(config, KeyMemTableSize, 16<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMemTableSize, config[KeyMemTableSize], err.Error())
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := storage.GetString(config, KeyPath, "")
		if path == "" {
			return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
		}
		path = storage.ExpandPath(path)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(syncWrites)
	}
	opts.Logger = nil
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger origin backend initialized", "in_memory", inMemory, "path", opts.Dir)
	return NewWithDB(db, retries), nil
}

// Backend is a BadgerDB implementation of origin.Backend.
type Backend struct {
	db      *badger.DB
	retries int
	closed  atomic.Bool
}

// NewWithDB creates a backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB, retries int) *Backend {
	if retries < 1 {
		retries = 1
	}
	return &Backend{db: db, retries: retries}
}

func key(namespace string) []byte { return []byte(prefixOrigin + namespace) }

// Claim implements origin.Backend. Concurrent claims on the same namespace
// conflict in badger and are retried.
func (b *Backend) Claim(ctx context.Context, namespace, url string, ttl time.Duration) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}

	var err error
	for range b.retries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			cur, err := get(txn, namespace)
			switch {
			case errors.Is(err, origin.ErrNotFound):
			case err != nil:
				return err
			case cur != url:
				return origin.ErrDuplicate
			}
			return txn.SetEntry(badger.NewEntry(key(namespace), []byte(url)).WithTTL(ttl))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil && !errors.Is(err, origin.ErrDuplicate) {
		return fmt.Errorf("badger claim: %w", err)
	}
	return err
}

// Get implements origin.Backend.
func (b *Backend) Get(_ context.Context, namespace string) (string, error) {
	if b.closed.Load() {
		return "", origin.ErrClosed
	}
	var url string
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		url, err = get(txn, namespace)
		return err
	})
	return url, err
}

// Release implements origin.Backend.
func (b *Backend) Release(_ context.Context, namespace, url string) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		cur, err := get(txn, namespace)
		if err != nil {
			return err
		}
		if cur != url {
			return nil
		}
		return txn.Delete(key(namespace))
	})
	if errors.Is(err, origin.ErrNotFound) {
		return nil
	}
	return err
}

// Close implements origin.Backend.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

func get(txn *badger.Txn, namespace string) (string, error) {
	item, err := txn.Get(key(namespace))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", origin.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}
