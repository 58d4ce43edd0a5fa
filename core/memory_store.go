package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryStoreRetention = 90 * 24 * time.Hour
const defaultMemoryStoreListLimit = 100

// InMemoryEventStore keeps the full event lifecycle in process memory. It
// backs tests and single-node setups; durable deployments use the bun-backed
// store instead.
type InMemoryEventStore struct {
	mu        sync.Mutex
	retention time.Duration
	events    map[string]*Event
	Now       func() time.Time
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return NewInMemoryEventStoreWithRetention(defaultMemoryStoreRetention)
}

func NewInMemoryEventStoreWithRetention(retention time.Duration) *InMemoryEventStore {
	if retention <= 0 {
		retention = defaultMemoryStoreRetention
	}
	return &InMemoryEventStore{
		retention: retention,
		events:    map[string]*Event{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryEventStore) Append(_ context.Context, input AppendEventInput) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return Event{}, NewValidationError("event type is required", nil)
	}

	now := s.now()
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[id]; exists {
		return Event{}, NewConflictError(
			fmt.Sprintf("event %q already exists", id),
			map[string]any{"event_id": id},
		)
	}
	event := s.newEventLocked(id, eventType, input, now)
	s.events[id] = event
	return event.Clone(), nil
}

func (s *InMemoryEventStore) UpsertReceived(_ context.Context, input AppendEventInput) (Event, bool, error) {
	if s == nil {
		return Event{}, false, fmt.Errorf("core: event store is not configured")
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return Event{}, false, NewValidationError("event type is required", nil)
	}

	now := s.now()
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[id]; ok {
		return existing.Clone(), true, nil
	}
	event := s.newEventLocked(id, eventType, input, now)
	s.events[id] = event
	return event.Clone(), false, nil
}

func (s *InMemoryEventStore) Get(_ context.Context, id string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, NewValidationError("event id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok || event.Expired(s.now()) {
		return Event{}, NewNotFoundError(
			fmt.Sprintf("event %q not found", id),
			map[string]any{"event_id": id},
		)
	}
	return event.Clone(), nil
}

func (s *InMemoryEventStore) ListPending(_ context.Context, input ListPendingInput) ([]Event, error) {
	if s == nil {
		return nil, fmt.Errorf("core: event store is not configured")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultMemoryStoreListLimit
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*Event, 0)
	for _, event := range s.events {
		if event.Status != EventStatusPending || event.Expired(now) {
			continue
		}
		if !input.IncludeDeferred && !event.DueForClaim(now) {
			continue
		}
		matched = append(matched, event)
	}
	sortEventsByAge(matched, input.NewestFirst)

	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Event, 0, len(matched))
	for _, event := range matched {
		out = append(out, event.Clone())
	}
	return out, nil
}

func (s *InMemoryEventStore) TryClaim(_ context.Context, id string) (Event, bool, error) {
	if s == nil {
		return Event{}, false, fmt.Errorf("core: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, false, NewValidationError("event id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return Event{}, false, NewNotFoundError(
			fmt.Sprintf("event %q not found", id),
			map[string]any{"event_id": id},
		)
	}
	if event.Status != EventStatusPending {
		return Event{}, false, nil
	}
	s.claimLocked(event, s.now())
	return event.Clone(), true, nil
}

func (s *InMemoryEventStore) ClaimDue(_ context.Context, limit int) ([]Event, error) {
	if s == nil {
		return nil, fmt.Errorf("core: event store is not configured")
	}
	if limit <= 0 {
		limit = defaultMemoryStoreListLimit
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*Event, 0)
	for _, event := range s.events {
		if event.DueForClaim(now) && !event.Expired(now) {
			due = append(due, event)
		}
	}
	sortEventsByAge(due, false)
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Event, 0, len(due))
	for _, event := range due {
		s.claimLocked(event, now)
		claimed = append(claimed, event.Clone())
	}
	return claimed, nil
}

func (s *InMemoryEventStore) MarkDelivered(_ context.Context, id string, latency time.Duration) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, NewValidationError("event id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return Event{}, NewNotFoundError(
			fmt.Sprintf("event %q not found", id),
			map[string]any{"event_id": id},
		)
	}
	if event.Status == EventStatusDelivered {
		return event.Clone(), nil
	}
	now := s.now()
	if err := event.TransitionTo(EventStatusDelivered, "", now); err != nil {
		return Event{}, transitionConflict(err, id, event.Status, EventStatusDelivered)
	}
	if latency <= 0 {
		latency = now.Sub(event.CreatedAt)
	}
	event.DeliveryLatency = latency
	event.NextAttemptAt = nil
	return event.Clone(), nil
}

func (s *InMemoryEventStore) MarkRetryOrFailed(_ context.Context, id string, cause error, nextAttemptAt time.Time) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, NewValidationError("event id is required", nil)
	}
	reason := "delivery failed"
	if cause != nil && strings.TrimSpace(cause.Error()) != "" {
		reason = strings.TrimSpace(cause.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return Event{}, NewNotFoundError(
			fmt.Sprintf("event %q not found", id),
			map[string]any{"event_id": id},
		)
	}
	now := s.now()
	if nextAttemptAt.IsZero() {
		if err := event.TransitionTo(EventStatusFailed, reason, now); err != nil {
			return Event{}, transitionConflict(err, id, event.Status, EventStatusFailed)
		}
		event.NextAttemptAt = nil
		return event.Clone(), nil
	}

	if err := event.TransitionTo(EventStatusPending, reason, now); err != nil {
		return Event{}, transitionConflict(err, id, event.Status, EventStatusPending)
	}
	at := nextAttemptAt.UTC()
	event.NextAttemptAt = &at
	return event.Clone(), nil
}

func (s *InMemoryEventStore) Acknowledge(_ context.Context, id string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, NewValidationError("event id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return Event{}, NewNotFoundError(
			fmt.Sprintf("event %q not found", id),
			map[string]any{"event_id": id},
		)
	}
	switch event.Status {
	case EventStatusDelivered:
		return event.Clone(), nil
	case EventStatusPending:
		now := s.now()
		if err := event.TransitionTo(EventStatusDelivered, "", now); err != nil {
			return Event{}, transitionConflict(err, id, event.Status, EventStatusDelivered)
		}
		event.DeliveryLatency = now.Sub(event.CreatedAt)
		event.NextAttemptAt = nil
		return event.Clone(), nil
	default:
		return Event{}, NewConflictError(
			fmt.Sprintf("event %q is %s and cannot be acknowledged", id, event.Status),
			map[string]any{"event_id": id, "status": string(event.Status)},
		)
	}
}

func (s *InMemoryEventStore) ReclaimStale(_ context.Context, olderThan time.Time, limit int) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: event store is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reclaimed := 0
	for _, event := range s.events {
		if limit > 0 && reclaimed >= limit {
			break
		}
		if !event.StaleInFlight(olderThan) {
			continue
		}
		if err := event.TransitionTo(EventStatusPending, "stale claim reclaimed", now); err != nil {
			continue
		}
		event.NextAttemptAt = nil
		reclaimed++
	}
	return reclaimed, nil
}

func (s *InMemoryEventStore) PurgeExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: event store is not configured")
	}
	if before.IsZero() {
		before = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, event := range s.events {
		if limit > 0 && purged >= limit {
			break
		}
		if event.ExpiresAt.IsZero() || event.ExpiresAt.After(before) {
			continue
		}
		delete(s.events, id)
		purged++
	}
	return purged, nil
}

func (s *InMemoryEventStore) newEventLocked(id string, eventType string, input AppendEventInput, now time.Time) *Event {
	createdAt := input.OccurredAt.UTC()
	if input.OccurredAt.IsZero() {
		createdAt = now
	}
	event := &Event{
		ID:        id,
		Type:      eventType,
		Source:    strings.TrimSpace(input.Source),
		Status:    EventStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: createdAt.Add(s.retention),
	}
	if len(input.Payload) > 0 {
		event.Payload = append([]byte(nil), input.Payload...)
	}
	return event
}

func (s *InMemoryEventStore) claimLocked(event *Event, now time.Time) {
	_ = event.TransitionTo(EventStatusInFlight, "", now)
	event.AttemptCount++
	at := now
	event.LastAttemptAt = &at
	event.NextAttemptAt = nil
}

func (s *InMemoryEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func sortEventsByAge(events []*Event, newestFirst bool) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		if newestFirst {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

func transitionConflict(err error, id string, from, to EventStatus) error {
	return NewConflictError(
		fmt.Sprintf("event %q cannot move %s -> %s: %v", id, from, to, err),
		map[string]any{"event_id": id, "from": string(from), "to": string(to)},
	)
}

var _ EventStore = (*InMemoryEventStore)(nil)
