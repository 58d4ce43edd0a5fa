package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const eventCacheKeyPrefix = "go-relay::event::v1"

// CachedEventStore layers a read-through cache over event lookups. Only Get
// is cached; list and claim reads always hit the base store because their
// results drive state transitions. Every id-targeted write invalidates the
// cached entry. Sweep writes (reclaim, purge) cannot name their rows, so
// entries they touch stay stale until the cache TTL ages them out.
type CachedEventStore struct {
	base  core.EventStore
	cache repositorycache.CacheService
}

func NewCachedEventStore(base core.EventStore, cacheService repositorycache.CacheService) (*CachedEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: event cache service is required")
	}
	return &CachedEventStore{base: base, cache: cacheService}, nil
}

// EventCacheKey returns the deterministic cache key contract for event reads:
// go-relay::event::v1::<id> with the id URL-path escaped.
func EventCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}
	return eventCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (s *CachedEventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, core.NewValidationError("event id is required", nil)
	}
	cacheKey, err := EventCacheKey(id)
	if err != nil {
		return core.Event{}, err
	}

	event, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Event, error) {
		return s.base.Get(ctx, id)
	})
	if err != nil {
		return core.Event{}, err
	}
	return event.Clone(), nil
}

func (s *CachedEventStore) Append(ctx context.Context, input core.AppendEventInput) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.Append(ctx, input)
	if err != nil {
		return core.Event{}, err
	}
	if err := s.invalidate(ctx, event.ID); err != nil {
		return core.Event{}, err
	}
	return event, nil
}

func (s *CachedEventStore) UpsertReceived(ctx context.Context, input core.AppendEventInput) (core.Event, bool, error) {
	if s == nil || s.base == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, duplicate, err := s.base.UpsertReceived(ctx, input)
	if err != nil {
		return core.Event{}, false, err
	}
	if err := s.invalidate(ctx, event.ID); err != nil {
		return core.Event{}, false, err
	}
	return event, duplicate, nil
}

func (s *CachedEventStore) ListPending(ctx context.Context, input core.ListPendingInput) ([]core.Event, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.ListPending(ctx, input)
}

func (s *CachedEventStore) TryClaim(ctx context.Context, id string) (core.Event, bool, error) {
	if s == nil || s.base == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, claimed, err := s.base.TryClaim(ctx, id)
	if err != nil {
		return core.Event{}, false, err
	}
	if claimed {
		if err := s.invalidate(ctx, event.ID); err != nil {
			return core.Event{}, false, err
		}
	}
	return event, claimed, nil
}

func (s *CachedEventStore) ClaimDue(ctx context.Context, limit int) ([]core.Event, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	events, err := s.base.ClaimDue(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if err := s.invalidate(ctx, event.ID); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *CachedEventStore) MarkDelivered(ctx context.Context, id string, latency time.Duration) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.MarkDelivered(ctx, id, latency)
	if err != nil {
		return core.Event{}, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		return core.Event{}, err
	}
	return event, nil
}

func (s *CachedEventStore) MarkRetryOrFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.MarkRetryOrFailed(ctx, id, cause, nextAttemptAt)
	if err != nil {
		return core.Event{}, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		return core.Event{}, err
	}
	return event, nil
}

func (s *CachedEventStore) Acknowledge(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.Acknowledge(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		return core.Event{}, err
	}
	return event, nil
}

func (s *CachedEventStore) ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if s == nil || s.base == nil {
		return 0, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.ReclaimStale(ctx, olderThan, limit)
}

func (s *CachedEventStore) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if s == nil || s.base == nil {
		return 0, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.PurgeExpired(ctx, before, limit)
}

func (s *CachedEventStore) invalidate(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	cacheKey, err := EventCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
