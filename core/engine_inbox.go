package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	PollOrderNewest = "newest"
	PollOrderOldest = "oldest"
)

// Poll lists pending events for pull consumers, newest first by default.
// Deferred events still inside their retry backoff window are included: a
// pull consumer owns its own pacing.
func (e *Engine) Poll(ctx context.Context, input PollInput) (events []Event, err error) {
	if e == nil {
		return nil, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"limit": input.Limit,
		"order": input.Order,
		"mode":  string(e.Mode()),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "poll", err, fields)
	}()

	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return nil, err
	}

	newestFirst := e.config.Inbox.NewestFirst
	switch strings.ToLower(strings.TrimSpace(input.Order)) {
	case "":
	case PollOrderNewest:
		newestFirst = true
	case PollOrderOldest:
		newestFirst = false
	default:
		err = e.mapError(NewValidationError(
			fmt.Sprintf("order must be %q or %q", PollOrderNewest, PollOrderOldest),
			map[string]any{"order": input.Order},
		))
		return nil, err
	}

	limit := input.Limit
	maxLimit := e.config.Inbox.MaxPollLimit
	if maxLimit <= 0 {
		maxLimit = DefaultConfig().Inbox.MaxPollLimit
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	fields["limit"] = limit

	events, err = e.store.ListPending(ctx, ListPendingInput{
		Limit:           limit,
		NewestFirst:     newestFirst,
		IncludeDeferred: true,
	})
	if err != nil {
		err = e.mapError(err)
		return nil, err
	}
	fields["count"] = len(events)
	return events, nil
}

// Acknowledge resolves one pending event as consumed. The transition is a
// conditional write: an event claimed by the dispatcher reports a conflict,
// an already delivered event acknowledges idempotently.
func (e *Engine) Acknowledge(ctx context.Context, id string) (event Event, err error) {
	if e == nil {
		return Event{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_id": id,
		"mode":     string(e.Mode()),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "acknowledge", err, fields)
	}()

	if strings.TrimSpace(id) == "" {
		err = e.mapError(NewValidationError("event id is required", nil))
		return Event{}, err
	}
	if e.store == nil {
		err = e.mapError(ErrStoreNotConfigured)
		return Event{}, err
	}
	if e.Mode() == ConsumeModePush {
		e.logWarn(ctx, "acknowledge received while consume mode is push", fields)
	}

	event, err = e.store.Acknowledge(ctx, strings.TrimSpace(id))
	if err != nil {
		err = e.mapError(err)
		return Event{}, err
	}

	e.recordCounter(ctx, "relay.inbox.acknowledged.total", 1, map[string]string{
		"event_type": event.Type,
	})
	return event, nil
}
