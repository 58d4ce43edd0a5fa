package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type DispatcherOptions struct {
	Store   EventStore
	Sender  DeliverySender
	Policy  RetryPolicy
	Config  DispatchConfig
	Logger  Logger
	Metrics MetricsRecorder
	Now     func() time.Time
}

// Dispatcher drives the push path: reclaim abandoned claims, claim a batch
// of due events, and deliver them through a bounded worker pool. Every state
// change goes through the store's conditional writes, so overlapping runs
// never double-deliver within a claim window.
type Dispatcher struct {
	store   EventStore
	sender  DeliverySender
	policy  RetryPolicy
	config  DispatchConfig
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

func NewDispatcher(options DispatcherOptions) (*Dispatcher, error) {
	if options.Store == nil {
		return nil, fmt.Errorf("core: event store is required")
	}
	if options.Sender == nil {
		return nil, fmt.Errorf("core: delivery sender is required")
	}

	config := options.Config
	defaults := DefaultConfig().Dispatch
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.AttemptTimeoutSeconds <= 0 {
		config.AttemptTimeoutSeconds = defaults.AttemptTimeoutSeconds
	}

	policy := options.Policy
	if policy == nil {
		policy = NewExponentialBackoffPolicy(DefaultConfig().Retry)
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Dispatcher{
		store:   options.Store,
		sender:  options.Sender,
		policy:  policy,
		config:  config,
		logger:  glog.Ensure(options.Logger),
		metrics: metrics,
		now:     now,
	}, nil
}

type outcomeKind int

const (
	outcomeSkipped outcomeKind = iota
	outcomeDelivered
	outcomeRetried
	outcomeFailed
)

// deliveryOutcome carries a non-nil err only for store faults during
// resolution. Delivery failures themselves are recorded on the event and
// surface through stats and counters, never as an invocation error.
type deliveryOutcome struct {
	kind outcomeKind
	err  error
}

func (d *Dispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	stats := DispatchStats{}

	// Fold claims abandoned by crashed workers back into pending before
	// claiming, so they rejoin this batch instead of waiting another cycle.
	cutoff := d.now().Add(-d.config.StaleClaimAfter())
	reclaimed, sweepErr := d.store.ReclaimStale(ctx, cutoff, limit)
	if sweepErr != nil {
		d.logger.Warn("stale claim sweep failed", "error", sweepErr.Error())
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 {
		d.metrics.IncCounter(ctx, "relay.claims.reclaimed.total", int64(reclaimed), nil)
	}

	events, err := d.store.ClaimDue(ctx, limit)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(events)
	if len(events) == 0 {
		return stats, nil
	}

	workers := d.config.Workers
	if workers > len(events) {
		workers = len(events)
	}
	results := make(chan deliveryOutcome, len(events))
	semaphore := make(chan struct{}, workers)
	for _, event := range events {
		go func(ev Event) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			results <- d.deliverOne(ctx, ev)
		}(event)
	}

	var resolveErr error
	for range events {
		outcome := <-results
		switch outcome.kind {
		case outcomeDelivered:
			stats.Delivered++
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
		resolveErr = errors.Join(resolveErr, outcome.err)
	}
	return stats, resolveErr
}

func (d *Dispatcher) deliverOne(ctx context.Context, event Event) deliveryOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout())
	defer cancel()

	attemptStarted := d.now()
	result, sendErr := d.sender.Send(attemptCtx, event)
	attemptDuration := result.Duration
	if attemptDuration <= 0 {
		attemptDuration = d.now().Sub(attemptStarted)
	}

	tags := map[string]string{"event_type": event.Type}
	switch {
	case sendErr == nil && deliverySucceeded(result.StatusCode):
		latency := d.now().Sub(event.CreatedAt)
		if _, markErr := d.store.MarkDelivered(ctx, event.ID, latency); markErr != nil {
			return deliveryOutcome{kind: outcomeSkipped, err: markErr}
		}
		d.metrics.IncCounter(ctx, "relay.delivery.success.total", 1, tags)
		d.metrics.ObserveHistogram(ctx, "relay.delivery.latency_ms", float64(attemptDuration.Milliseconds()), tags)
		d.logger.Debug("delivery succeeded",
			"event_id", event.ID,
			"event_type", event.Type,
			"status_code", result.StatusCode,
			"attempt", event.AttemptCount,
		)
		return deliveryOutcome{kind: outcomeDelivered}

	case sendErr == nil && deliveryTerminal(result.StatusCode):
		cause := NewTerminalDeliveryError(nil,
			fmt.Sprintf("delivery rejected with status %d", result.StatusCode),
			map[string]any{"event_id": event.ID, "status_code": result.StatusCode},
		)
		return d.resolveFailure(ctx, event, cause, false, tags)

	default:
		cause := sendErr
		if cause == nil {
			cause = NewRetryableDeliveryError(nil,
				fmt.Sprintf("delivery answered with status %d", result.StatusCode),
				map[string]any{"event_id": event.ID, "status_code": result.StatusCode},
			)
		}
		return d.resolveFailure(ctx, event, cause, true, tags)
	}
}

// resolveFailure records a failed attempt: retryable causes go back to
// pending with a backoff window while attempts remain, everything else is
// terminally failed.
func (d *Dispatcher) resolveFailure(ctx context.Context, event Event, cause error, retryable bool, tags map[string]string) deliveryOutcome {
	d.metrics.IncCounter(ctx, "relay.delivery.failure.total", 1, tags)

	if retryable && d.policy.ShouldRetry(event.AttemptCount) {
		delay := d.policy.NextDelay(event.AttemptCount)
		nextAttemptAt := d.now().Add(delay)
		if _, markErr := d.store.MarkRetryOrFailed(ctx, event.ID, cause, nextAttemptAt); markErr != nil {
			return deliveryOutcome{kind: outcomeSkipped, err: markErr}
		}
		d.logger.Warn("delivery failed, retry scheduled",
			"event_id", event.ID,
			"event_type", event.Type,
			"attempt", event.AttemptCount,
			"next_attempt_in", delay.String(),
			"error", cause.Error(),
		)
		return deliveryOutcome{kind: outcomeRetried}
	}

	terminal := cause
	if retryable {
		terminal = NewTerminalDeliveryError(cause, "delivery attempts exhausted",
			map[string]any{"event_id": event.ID, "attempts": event.AttemptCount},
		)
	}
	if _, markErr := d.store.MarkRetryOrFailed(ctx, event.ID, terminal, time.Time{}); markErr != nil {
		return deliveryOutcome{kind: outcomeSkipped, err: markErr}
	}
	d.metrics.IncCounter(ctx, "relay.delivery.terminal.total", 1, tags)
	d.logger.Error("delivery failed terminally",
		"event_id", event.ID,
		"event_type", event.Type,
		"attempt", event.AttemptCount,
		"error", terminal.Error(),
	)
	return deliveryOutcome{kind: outcomeFailed}
}

func deliverySucceeded(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// deliveryTerminal reports whether the status must not be retried: the
// request is malformed or rejected, so replays cannot change the answer.
// 429 stays retryable.
func deliveryTerminal(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests
}

// DispatchPending runs one dispatch cycle through the engine: stale claim
// sweep, batch claim, bounded-worker delivery. A zero batchSize uses the
// configured batch size.
func (e *Engine) DispatchPending(ctx context.Context, batchSize int) (stats DispatchStats, err error) {
	if e == nil {
		return DispatchStats{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"batch_size": batchSize,
		"mode":       string(e.Mode()),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "dispatch", err, fields)
	}()

	if e.Mode() == ConsumeModePull {
		err = e.mapError(NewConflictError(
			"dispatch is disabled while consume mode is pull",
			map[string]any{"mode": string(ConsumeModePull)},
		))
		return DispatchStats{}, err
	}
	if e.dispatcher == nil {
		err = e.mapError(ErrSenderNotConfigured)
		return DispatchStats{}, err
	}

	stats, err = e.dispatcher.DispatchPending(ctx, batchSize)
	fields["claimed"] = stats.Claimed
	fields["delivered"] = stats.Delivered
	fields["retried"] = stats.Retried
	fields["failed"] = stats.Failed
	fields["reclaimed"] = stats.Reclaimed
	if err != nil {
		err = e.mapError(err)
		return stats, err
	}
	return stats, nil
}

// Dispatcher exposes the configured dispatcher, nil when no delivery sender
// was provided.
func (e *Engine) Dispatcher() *Dispatcher {
	if e == nil {
		return nil
	}
	return e.dispatcher
}

var _ PendingDispatcher = (*Dispatcher)(nil)
var _ PendingDispatcher = (*Engine)(nil)
