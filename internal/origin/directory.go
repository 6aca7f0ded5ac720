package origin

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gezibash/moq-relay/pkg/logging"
)

const (
	// DefaultTTL is how long an entry lives without a refresh.
	DefaultTTL = 10 * time.Minute

	releaseTimeout = 5 * time.Second
)

// Directory publishes this relay as the origin of the namespaces it serves.
type Directory struct {
	backend Backend
	url     string
	ttl     time.Duration
	logger  *logging.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithTTL sets the entry lifetime. Refreshes happen every ttl/2.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithLogger sets the directory logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDirectory returns a directory advertising publicURL through backend.
func NewDirectory(backend Backend, publicURL string, opts ...Option) (*Directory, error) {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("origin: invalid public url %q", publicURL)
	}
	d := &Directory{
		backend: backend,
		url:     u.String(),
		ttl:     DefaultTTL,
		logger:  logging.New(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("origin")
	return d, nil
}

// URL returns the advertised origin URL.
func (d *Directory) URL() string { return d.url }

// TTL returns the entry lifetime.
func (d *Directory) TTL() time.Duration { return d.ttl }

// SetOrigin claims namespace for this relay. The returned Refresher must be
// run for as long as the namespace is served.
func (d *Directory) SetOrigin(ctx context.Context, namespace string) (*Refresher, error) {
	if err := d.backend.Claim(ctx, namespace, d.url, d.ttl); err != nil {
		return nil, fmt.Errorf("set origin %s: %w", namespace, err)
	}
	d.logger.WithNamespace(namespace).Debug("origin set", "url", d.url, "ttl", d.ttl)
	return &Refresher{dir: d, namespace: namespace}, nil
}

// Origin resolves the relay currently serving namespace.
func (d *Directory) Origin(ctx context.Context, namespace string) (*url.URL, error) {
	raw, err := d.backend.Get(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return url.Parse(raw)
}

// Refresher keeps one directory entry alive.
type Refresher struct {
	dir       *Directory
	namespace string
}

// Namespace returns the namespace being refreshed.
func (r *Refresher) Namespace() string { return r.namespace }

// Run re-claims the entry every ttl/2 until ctx is cancelled, then releases
// it. A failed claim ends Run with the error; the entry is then left to
// expire.
func (r *Refresher) Run(ctx context.Context) error {
	d := r.dir
	ticker := time.NewTicker(d.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := d.backend.Release(rctx, r.namespace, d.url); err != nil {
				d.logger.WithNamespace(r.namespace).Warn("origin release failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := d.backend.Claim(ctx, r.namespace, d.url, d.ttl); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("refresh origin %s: %w", r.namespace, err)
			}
		}
	}
}
