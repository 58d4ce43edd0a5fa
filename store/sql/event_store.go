package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	statusPending   = string(core.EventStatusPending)
	statusInFlight  = string(core.EventStatusInFlight)
	statusDelivered = string(core.EventStatusDelivered)
	statusFailed    = string(core.EventStatusFailed)
)

const (
	defaultEventRetention = 90 * 24 * time.Hour
	defaultListLimit      = 100
	reclaimReason         = "stale claim reclaimed"
)

// EventStore is the bun-backed event ledger. Every transition out of pending
// or in_flight is a conditional UPDATE keyed on the current status, so
// overlapping dispatcher runs, pull acknowledgers, and sweeps never double
// apply a transition.
type EventStore struct {
	db        *bun.DB
	repo      repository.Repository[*eventRecord]
	retention time.Duration
	now       func() time.Time
}

type EventStoreOption func(*EventStore)

// WithRetention overrides the retention horizon stamped onto new rows.
func WithRetention(ttl time.Duration) EventStoreOption {
	return func(s *EventStore) {
		if ttl > 0 {
			s.retention = ttl
		}
	}
}

// WithClock injects the store clock; tests drive expiry and backoff windows
// through it.
func WithClock(now func() time.Time) EventStoreOption {
	return func(s *EventStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewEventStore(db *bun.DB, opts ...EventStoreOption) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	store := &EventStore{
		db:        db,
		repo:      repo,
		retention: defaultEventRetention,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *EventStore) Append(ctx context.Context, input core.AppendEventInput) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return core.Event{}, core.NewValidationError("event type is required", nil)
	}

	record := s.newRecord(input, eventType)
	if _, err := s.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return core.Event{}, core.NewConflictError(
				fmt.Sprintf("event %q already exists", record.ID),
				map[string]any{"event_id": record.ID},
			)
		}
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) UpsertReceived(ctx context.Context, input core.AppendEventInput) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		return core.Event{}, false, core.NewValidationError("event type is required", nil)
	}

	record := s.newRecord(input, eventType)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.getRecord(ctx, record.ID)
			if getErr != nil {
				return core.Event{}, false, getErr
			}
			return eventRecordToDomain(existing), true, nil
		}
		return core.Event{}, false, err
	}
	return eventRecordToDomain(record), false, nil
}

func (s *EventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, core.NewValidationError("event id is required", nil)
	}

	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	// Rows past retention are invisible even before the purge sweep removes
	// them.
	if !record.ExpiresAt.IsZero() && !s.now().Before(record.ExpiresAt) {
		return core.Event{}, notFound(id)
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) ListPending(ctx context.Context, input core.ListPendingInput) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	now := s.now()

	var records []eventRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", statusPending).
		Where("?TableAlias.expires_at > ?", now)
	if !input.IncludeDeferred {
		query = query.Where(
			"(?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)",
			now,
		)
	}
	if input.NewestFirst {
		query = query.Order("created_at DESC")
	} else {
		query = query.Order("created_at ASC")
	}
	if err := query.Order("id ASC").Limit(limit).Scan(ctx); err != nil {
		return nil, err
	}

	events := make([]core.Event, 0, len(records))
	for i := range records {
		events = append(events, eventRecordToDomain(&records[i]))
	}
	return events, nil
}

func (s *EventStore) TryClaim(ctx context.Context, id string) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, false, core.NewValidationError("event id is required", nil)
	}

	now := s.now()
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", statusInFlight).
		Set("attempt_count = attempt_count + 1").
		Set("last_attempt_at = ?", now).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", statusPending).
		Exec(ctx)
	if err != nil {
		return core.Event{}, false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, getErr := s.getRecord(ctx, id); getErr != nil {
			return core.Event{}, false, getErr
		}
		// Lost the race or the row is already past pending; both are normal.
		return core.Event{}, false, nil
	}

	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, false, err
	}
	return eventRecordToDomain(record), true, nil
}

func (s *EventStore) ClaimDue(ctx context.Context, limit int) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	now := s.now()

	var records []eventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimable AS (
	SELECT id
	FROM relay_events
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	  AND expires_at > ?
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
UPDATE relay_events
SET status = ?,
	attempt_count = attempt_count + 1,
	last_attempt_at = ?,
	next_attempt_at = NULL,
	updated_at = ?
WHERE id IN (SELECT id FROM claimable)
  AND status = ?
RETURNING
	id,
	event_type,
	source,
	payload,
	status,
	attempt_count,
	last_attempt_at,
	next_attempt_at,
	delivery_latency_ms,
	last_error,
	created_at,
	updated_at,
	expires_at
`
		return tx.NewRaw(
			query,
			statusPending,
			now,
			now,
			limit,
			statusInFlight,
			now,
			now,
			statusPending,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	events := make([]core.Event, 0, len(records))
	for i := range records {
		events = append(events, eventRecordToDomain(&records[i]))
	}
	return events, nil
}

func (s *EventStore) MarkDelivered(ctx context.Context, id string, latency time.Duration) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, core.NewValidationError("event id is required", nil)
	}

	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	if record.Status == statusDelivered {
		return eventRecordToDomain(record), nil
	}

	now := s.now()
	if latency <= 0 {
		latency = now.Sub(record.CreatedAt)
	}
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", statusDelivered).
		Set("delivery_latency_ms = ?", latency.Milliseconds()).
		Set("next_attempt_at = NULL").
		Set("last_error = ?", "").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{statusPending, statusInFlight})).
		Exec(ctx)
	if err != nil {
		return core.Event{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return s.resolveLostTransition(ctx, id, statusDelivered)
	}

	record, err = s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) MarkRetryOrFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, core.NewValidationError("event id is required", nil)
	}
	reason := "delivery failed"
	if cause != nil && strings.TrimSpace(cause.Error()) != "" {
		reason = strings.TrimSpace(cause.Error())
	}

	now := s.now()
	target := statusFailed
	query := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("last_error = ?", reason).
		Set("updated_at = ?", now).
		Where("id = ?", id)
	if nextAttemptAt.IsZero() {
		query = query.
			Set("status = ?", statusFailed).
			Set("next_attempt_at = NULL").
			Where("status IN (?)", bun.In([]string{statusInFlight, statusFailed}))
	} else {
		target = statusPending
		query = query.
			Set("status = ?", statusPending).
			Set("next_attempt_at = ?", nextAttemptAt.UTC()).
			Where("status IN (?)", bun.In([]string{statusInFlight, statusPending}))
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return core.Event{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return s.resolveLostTransition(ctx, id, target)
	}

	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) Acknowledge(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, core.NewValidationError("event id is required", nil)
	}

	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	switch record.Status {
	case statusDelivered:
		return eventRecordToDomain(record), nil
	case statusPending:
	default:
		return core.Event{}, core.NewConflictError(
			fmt.Sprintf("event %q is %s and cannot be acknowledged", id, record.Status),
			map[string]any{"event_id": id, "status": record.Status},
		)
	}

	now := s.now()
	latency := now.Sub(record.CreatedAt)
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", statusDelivered).
		Set("delivery_latency_ms = ?", latency.Milliseconds()).
		Set("next_attempt_at = NULL").
		Set("last_error = ?", "").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", statusPending).
		Exec(ctx)
	if err != nil {
		return core.Event{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return s.resolveLostTransition(ctx, id, statusDelivered)
	}

	record, err = s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event store is not configured")
	}

	cutoff := olderThan.UTC()
	query := `
WITH stale AS (
	SELECT id
	FROM relay_events
	WHERE status = ?
	  AND (
		(last_attempt_at IS NOT NULL AND last_attempt_at < ?)
		OR (last_attempt_at IS NULL AND updated_at <= ?)
	  )
	ORDER BY updated_at ASC`
	args := []any{statusInFlight, cutoff, cutoff}
	if limit > 0 {
		query += `
	LIMIT ?`
		args = append(args, limit)
	}
	query += `
)
UPDATE relay_events
SET status = ?,
	next_attempt_at = NULL,
	last_error = ?,
	updated_at = ?
WHERE id IN (SELECT id FROM stale)
  AND status = ?
`
	args = append(args, statusPending, reclaimReason, s.now(), statusInFlight)

	res, err := s.db.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *EventStore) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event store is not configured")
	}
	if before.IsZero() {
		before = s.now()
	}

	query := `
DELETE FROM relay_events
WHERE id IN (
	SELECT id
	FROM relay_events
	WHERE expires_at <= ?
	ORDER BY expires_at ASC`
	args := []any{before.UTC()}
	if limit > 0 {
		query += `
	LIMIT ?`
		args = append(args, limit)
	}
	query += `
)`

	res, err := s.db.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *EventStore) newRecord(input core.AppendEventInput, eventType string) *eventRecord {
	now := s.now()
	createdAt := input.OccurredAt.UTC()
	if input.OccurredAt.IsZero() {
		createdAt = now
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &eventRecord{
		ID:        id,
		Type:      eventType,
		Source:    strings.TrimSpace(input.Source),
		Status:    statusPending,
		LastError: "",
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: createdAt.Add(s.retention),
	}
	if len(input.Payload) > 0 {
		record.Payload = append([]byte(nil), input.Payload...)
	}
	return record
}

func (s *EventStore) getRecord(ctx context.Context, id string) (*eventRecord, error) {
	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound(id)
		}
		return nil, err
	}
	return record, nil
}

// resolveLostTransition classifies a conditional update that touched zero
// rows: the row vanished, another writer already landed the same terminal
// state, or the states genuinely conflict.
func (s *EventStore) resolveLostTransition(ctx context.Context, id string, target string) (core.Event, error) {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Event{}, err
	}
	if record.Status == target {
		return eventRecordToDomain(record), nil
	}
	return core.Event{}, core.NewConflictError(
		fmt.Sprintf("event %q cannot move %s -> %s", id, record.Status, target),
		map[string]any{"event_id": id, "from": record.Status, "to": target},
	)
}

func notFound(id string) error {
	return core.NewNotFoundError(
		fmt.Sprintf("event %q not found", id),
		map[string]any{"event_id": id},
	)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
