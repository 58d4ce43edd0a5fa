package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
)

// DefaultSecretTTL bounds how long a resolved secret is reused before the
// backing source is consulted again.
const DefaultSecretTTL = 5 * time.Minute

type CachedOption func(*CachedSecretSource)

// CachedSecretSource memoizes resolutions from a backing source for a TTL.
// It replaces a process-global secrets cache: the cache lives on the value
// and is injected where needed, and invalidation is an explicit call instead
// of a process restart.
type CachedSecretSource struct {
	source core.SecretSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewCachedSecretSource(source core.SecretSource, opts ...CachedOption) (*CachedSecretSource, error) {
	if source == nil {
		return nil, fmt.Errorf("security: backing secret source is required")
	}
	cached := &CachedSecretSource{
		source:  source,
		ttl:     DefaultSecretTTL,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]cachedSecret{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cached)
	}
	if cached.ttl <= 0 {
		cached.ttl = DefaultSecretTTL
	}
	if cached.now == nil {
		cached.now = func() time.Time { return time.Now().UTC() }
	}
	return cached, nil
}

func WithSecretTTL(ttl time.Duration) CachedOption {
	return func(c *CachedSecretSource) {
		if c == nil || ttl <= 0 {
			return
		}
		c.ttl = ttl
	}
}

func WithCacheClock(now func() time.Time) CachedOption {
	return func(c *CachedSecretSource) {
		if c == nil || now == nil {
			return
		}
		c.now = now
	}
}

func (c *CachedSecretSource) Resolve(ctx context.Context, name string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("security: secret source is nil")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("security: secret name is required")
	}

	c.mu.RLock()
	entry, ok := c.entries[trimmed]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	value, err := c.source.Resolve(ctx, trimmed)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[trimmed] = cachedSecret{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
	return value, nil
}

// ResolveCandidates bypasses the cache when the backing source rotates, so a
// freshly rotated secret verifies without waiting out the TTL.
func (c *CachedSecretSource) ResolveCandidates(ctx context.Context, name string) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("security: secret source is nil")
	}
	if resolver, ok := c.source.(candidateResolver); ok {
		return resolver.ResolveCandidates(ctx, name)
	}
	value, err := c.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return []string{value}, nil
}

// Invalidate drops the named entries; with no names it clears the cache.
func (c *CachedSecretSource) Invalidate(names ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.entries = map[string]cachedSecret{}
		return
	}
	for _, name := range names {
		delete(c.entries, strings.TrimSpace(name))
	}
}

type candidateResolver interface {
	ResolveCandidates(ctx context.Context, name string) ([]string, error)
}

var _ core.SecretSource = (*CachedSecretSource)(nil)
