package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventStatusTransition = errors.New("core: invalid event status transition")
	ErrPayloadTooLarge              = errors.New("core: event payload exceeds size limit")
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusInFlight  EventStatus = "in_flight"
	EventStatusDelivered EventStatus = "delivered"
	EventStatusFailed    EventStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s EventStatus) Terminal() bool {
	return s == EventStatusDelivered || s == EventStatusFailed
}

// Event is the unit of work the relay buffers and delivers. Type, Source,
// Payload, and CreatedAt are immutable after creation; the remaining fields
// are mutated only through the store's conditional writes.
type Event struct {
	ID              string
	Type            string
	Source          string
	Payload         []byte
	Status          EventStatus
	AttemptCount    int
	LastAttemptAt   *time.Time
	NextAttemptAt   *time.Time
	DeliveryLatency time.Duration
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (e *Event) TransitionTo(status EventStatus, reason string, now time.Time) error {
	if e == nil {
		return nil
	}
	if e.Status == status {
		e.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			e.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !eventTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEventStatusTransition, e.Status, status)
	}
	e.Status = status
	e.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		e.LastError = strings.TrimSpace(reason)
	}
	if status == EventStatusDelivered {
		e.LastError = ""
	}
	return nil
}

func eventTransitionAllowed(current, next EventStatus) bool {
	allowed := map[EventStatus]map[EventStatus]struct{}{
		EventStatusPending: {
			EventStatusInFlight:  {},
			EventStatusDelivered: {},
		},
		EventStatusInFlight: {
			EventStatusDelivered: {},
			EventStatusPending:   {},
			EventStatusFailed:    {},
		},
		EventStatusDelivered: {},
		EventStatusFailed:    {},
	}
	_, ok := allowed[current][next]
	return ok
}

// DueForClaim reports whether the event is claimable at the given instant:
// pending, with any retry backoff window already elapsed.
func (e *Event) DueForClaim(now time.Time) bool {
	if e == nil || e.Status != EventStatusPending {
		return false
	}
	if e.NextAttemptAt == nil {
		return true
	}
	return !e.NextAttemptAt.After(now)
}

// StaleInFlight reports whether the event looks abandoned by a crashed
// worker: in_flight with its last attempt older than the cutoff.
func (e *Event) StaleInFlight(cutoff time.Time) bool {
	if e == nil || e.Status != EventStatusInFlight {
		return false
	}
	if e.LastAttemptAt == nil {
		return !e.UpdatedAt.After(cutoff)
	}
	return e.LastAttemptAt.Before(cutoff)
}

func (e *Event) Expired(now time.Time) bool {
	if e == nil || e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// Clone returns a deep copy so callers can hand events across goroutines
// without sharing payload or timestamp pointers.
func (e *Event) Clone() Event {
	if e == nil {
		return Event{}
	}
	clone := *e
	if e.Payload != nil {
		clone.Payload = append([]byte(nil), e.Payload...)
	}
	if e.LastAttemptAt != nil {
		at := *e.LastAttemptAt
		clone.LastAttemptAt = &at
	}
	if e.NextAttemptAt != nil {
		at := *e.NextAttemptAt
		clone.NextAttemptAt = &at
	}
	return clone
}
