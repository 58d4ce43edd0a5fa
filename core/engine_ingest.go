package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Publish appends a caller-originated event to the buffer in pending state.
// The event becomes eligible for dispatch immediately.
func (e *Engine) Publish(ctx context.Context, input PublishInput) (event Event, err error) {
	if e == nil {
		return Event{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_type": input.Type,
		"source":     input.Source,
		"mode":       string(e.Mode()),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "publish", err, fields)
	}()

	if err = e.validatePayload(input.Type, input.Payload); err != nil {
		err = e.mapError(err)
		return Event{}, err
	}
	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return Event{}, err
	}

	event, err = e.store.Append(ctx, AppendEventInput{
		ID:      strings.TrimSpace(input.ID),
		Type:    strings.TrimSpace(input.Type),
		Source:  strings.TrimSpace(input.Source),
		Payload: input.Payload,
	})
	if err != nil {
		err = e.mapError(err)
		return Event{}, err
	}
	fields["event_id"] = event.ID

	e.recordCounter(ctx, "relay.events.published.total", 1, map[string]string{
		"event_type": event.Type,
	})
	return event, nil
}

// Receive stores a verified inbound webhook event. The write is idempotent on
// the upstream event id: replays return the original receipt unchanged.
func (e *Engine) Receive(ctx context.Context, input ReceiveInput) (receipt Receipt, err error) {
	if e == nil {
		return Receipt{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_type": input.EventType,
		"event_id":   input.EventID,
		"source":     input.Source,
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "receive", err, fields)
	}()

	if err = e.validatePayload(input.EventType, input.Payload); err != nil {
		err = e.mapError(err)
		return Receipt{}, err
	}
	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return Receipt{}, err
	}

	event, duplicate, upsertErr := e.store.UpsertReceived(ctx, AppendEventInput{
		ID:         strings.TrimSpace(input.EventID),
		Type:       strings.TrimSpace(input.EventType),
		Source:     strings.TrimSpace(input.Source),
		Payload:    input.Payload,
		OccurredAt: input.OccurredAt,
	})
	if upsertErr != nil {
		err = e.mapError(upsertErr)
		return Receipt{}, err
	}
	fields["event_id"] = event.ID
	fields["duplicate"] = duplicate

	e.recordCounter(ctx, "relay.events.received.total", 1, map[string]string{
		"event_type": event.Type,
		"duplicate":  fmt.Sprintf("%t", duplicate),
	})
	return Receipt{
		EventID:    event.ID,
		Duplicate:  duplicate,
		ReceivedAt: event.CreatedAt,
	}, nil
}

// GetEvent loads one event by id.
func (e *Engine) GetEvent(ctx context.Context, id string) (event Event, err error) {
	if e == nil {
		return Event{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{"event_id": id}
	defer func() {
		e.observeOperation(ctx, startedAt, "get_event", err, fields)
	}()

	if strings.TrimSpace(id) == "" {
		err = e.mapError(NewValidationError("event id is required", nil))
		return Event{}, err
	}
	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return Event{}, err
	}
	event, err = e.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		err = e.mapError(err)
		return Event{}, err
	}
	return event, nil
}

func (e *Engine) validatePayload(eventType string, payload []byte) error {
	if strings.TrimSpace(eventType) == "" {
		return NewValidationError("event type is required", nil)
	}
	// Payloads travel inside JSON delivery envelopes; reject bytes that can
	// never be re-emitted.
	if len(payload) > 0 && !json.Valid(payload) {
		return NewValidationError("event payload must be valid JSON", nil)
	}
	max := e.config.MaxPayloadBytes
	if max > 0 && len(payload) > max {
		return NewValidationError(
			"event payload exceeds size limit",
			map[string]any{
				"payload_bytes":     len(payload),
				"max_payload_bytes": max,
			},
		)
	}
	return nil
}
