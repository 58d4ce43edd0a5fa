package sqlstore

import (
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:relay_events,alias:re"`

	ID                string     `bun:"id,pk"`
	Type              string     `bun:"event_type,notnull"`
	Source            string     `bun:"source,notnull"`
	Payload           []byte     `bun:"payload"`
	Status            string     `bun:"status,notnull"`
	AttemptCount      int        `bun:"attempt_count,notnull"`
	LastAttemptAt     *time.Time `bun:"last_attempt_at,nullzero"`
	NextAttemptAt     *time.Time `bun:"next_attempt_at,nullzero"`
	DeliveryLatencyMS *int64     `bun:"delivery_latency_ms,nullzero"`
	LastError         string     `bun:"last_error,notnull"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt         time.Time  `bun:"expires_at,notnull"`
}

func eventRecordToDomain(record *eventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	event := core.Event{
		ID:           record.ID,
		Type:         record.Type,
		Source:       record.Source,
		Status:       core.EventStatus(record.Status),
		AttemptCount: record.AttemptCount,
		LastError:    record.LastError,
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	if len(record.Payload) > 0 {
		event.Payload = append([]byte(nil), record.Payload...)
	}
	if record.LastAttemptAt != nil {
		at := record.LastAttemptAt.UTC()
		event.LastAttemptAt = &at
	}
	if record.NextAttemptAt != nil {
		at := record.NextAttemptAt.UTC()
		event.NextAttemptAt = &at
	}
	if record.DeliveryLatencyMS != nil {
		event.DeliveryLatency = time.Duration(*record.DeliveryLatencyMS) * time.Millisecond
	}
	return event
}
