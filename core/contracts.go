package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// AppendEventInput creates a new pending event. ID is optional; stores mint a
// uuid when it is empty. OccurredAt defaults to the store clock.
type AppendEventInput struct {
	ID         string
	Type       string
	Source     string
	Payload    []byte
	OccurredAt time.Time
}

// ListPendingInput selects pending events. The zero value lists due events
// oldest first: rows still inside their retry backoff window are skipped
// unless IncludeDeferred is set (pull consumers want every pending event).
type ListPendingInput struct {
	Limit           int
	NewestFirst     bool
	IncludeDeferred bool
}

// EventStore is the single source of truth for event state. Every transition
// out of pending or in_flight is an atomic conditional write so overlapping
// dispatcher runs, pull acknowledgers, and sweeps can race safely.
type EventStore interface {
	// Append inserts a new pending event. A caller-supplied ID that already
	// exists is a conflict.
	Append(ctx context.Context, input AppendEventInput) (Event, error)

	// UpsertReceived is the idempotent receipt write: insert-if-absent keyed
	// on the event ID. When the ID already exists the stored event is
	// returned with duplicate=true and nothing is mutated.
	UpsertReceived(ctx context.Context, input AppendEventInput) (Event, bool, error)

	// Get returns NotFound for unknown ids and for rows past retention.
	Get(ctx context.Context, id string) (Event, error)

	ListPending(ctx context.Context, input ListPendingInput) ([]Event, error)

	// TryClaim performs the conditional pending -> in_flight transition,
	// incrementing the attempt counter. A lost race returns ok=false with no
	// error; that is the expected outcome under overlapping runs.
	TryClaim(ctx context.Context, id string) (Event, bool, error)

	// ClaimDue claims up to limit due pending events in one conditional
	// batch write. Equivalent to ListPending + TryClaim per row.
	ClaimDue(ctx context.Context, limit int) ([]Event, error)

	// MarkDelivered resolves in_flight -> delivered and records the latency
	// from creation. Calling it on an already delivered event is a no-op
	// success.
	MarkDelivered(ctx context.Context, id string, latency time.Duration) (Event, error)

	// MarkRetryOrFailed resolves a failed attempt: with a non-zero
	// nextAttemptAt the event returns to pending, eligible for re-claim once
	// the backoff window elapses; with a zero nextAttemptAt the event is
	// terminally failed. Both record cause as last_error.
	MarkRetryOrFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) (Event, error)

	// Acknowledge is the pull consumer's pending -> delivered transition.
	// Idempotent on delivered events, NotFound for unknown ids, Conflict
	// while the event is in_flight under the push path.
	Acknowledge(ctx context.Context, id string) (Event, error)

	// ReclaimStale folds abandoned claims back into pending: in_flight rows
	// whose last attempt is older than olderThan. Returns the number of rows
	// reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Time, limit int) (int, error)

	// PurgeExpired deletes rows past their retention horizon.
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// RetryPolicy decides delivery retry scheduling. Implementations must be
// pure: no store or network access.
type RetryPolicy interface {
	// NextDelay returns the backoff delay after the given attempt number
	// (1-based: attempt 1 is the first failed delivery).
	NextDelay(attempt int) time.Duration
	// ShouldRetry reports whether another attempt is allowed after attempt
	// attempts have been made.
	ShouldRetry(attempt int) bool
}

// DeliveryResult describes a completed HTTP delivery attempt. A transport
// level failure (timeout, connection refused) is returned as an error by the
// sender instead.
type DeliveryResult struct {
	StatusCode int
	Duration   time.Duration
}

// DeliverySender posts one event to the configured delivery target. Senders
// never retry internally; retries are store-mediated so they survive process
// crashes.
type DeliverySender interface {
	Send(ctx context.Context, event Event) (DeliveryResult, error)
}

// SecretSource resolves named secrets (delivery target URL, signing secret).
// Implementations own caching; callers treat every Resolve as cheap.
type SecretSource interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
	Reclaimed int
}

// PendingDispatcher is the stateless "process one batch" entry point. It maps
// to a scheduled task or to one iteration of a long-running runner loop.
type PendingDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
}

// RetentionPruner is implemented by stores that can enforce the retention
// horizon; the runner invokes it on the purge interval.
type RetentionPruner interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type PublishInput struct {
	ID      string
	Type    string
	Source  string
	Payload []byte
}

// ReceiveInput is the decoded inbound webhook body. EventID doubles as the
// idempotency key when the upstream supplies one.
type ReceiveInput struct {
	EventType  string
	EventID    string
	Source     string
	Payload    []byte
	OccurredAt time.Time
}

// Receipt is the receiver's acknowledgment: accepted, with the stored event
// id, whether this delivery was a duplicate, and the receipt timestamp.
type Receipt struct {
	EventID    string
	Duplicate  bool
	ReceivedAt time.Time
}

// PollInput pages pending events for pull consumers. Order is "newest" or
// "oldest"; empty falls back to the configured inbox default.
type PollInput struct {
	Limit int
	Order string
}

// RelayService is the full operation surface of the engine. Transports and
// message handlers depend on it instead of the concrete type.
type RelayService interface {
	Publish(ctx context.Context, input PublishInput) (Event, error)
	Receive(ctx context.Context, input ReceiveInput) (Receipt, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	Poll(ctx context.Context, input PollInput) ([]Event, error)
	Acknowledge(ctx context.Context, id string) (Event, error)
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type StoreProvider interface {
	EventStore() EventStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
