package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-relay/core"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-relay-tests"
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var clockStart = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:relay-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = relaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != relaymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, relaymigrations.WithValidationTargets(relaymigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newEventStoreFixture(t *testing.T, opts ...sqlstore.EventStoreOption) (*sqlstore.EventStore, *testClock, func()) {
	t.Helper()

	client, cleanup := newSQLiteClient(t)
	clock := newTestClock(clockStart)

	storeOpts := append([]sqlstore.EventStoreOption{sqlstore.WithClock(clock.Now)}, opts...)
	store, err := sqlstore.NewEventStore(client.DB(), storeOpts...)
	if err != nil {
		cleanup()
		t.Fatalf("new event store: %v", err)
	}
	return store, clock, cleanup
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"relay_events",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "relay_events" {
		t.Fatalf("expected relay_events table, got %q", tableName)
	}
}

func TestEventStore_AppendAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newEventStoreFixture(t, sqlstore.WithRetention(48*time.Hour))
	defer cleanup()

	occurredAt := clockStart.Add(-time.Minute)
	appended, err := store.Append(ctx, core.AppendEventInput{
		ID:         "evt_rt_1",
		Type:       "invoice.created",
		Source:     "billing",
		Payload:    []byte(`{"invoice":"inv_42","amount":1999}`),
		OccurredAt: occurredAt,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if appended.Status != core.EventStatusPending || appended.AttemptCount != 0 {
		t.Fatalf("unexpected new event state: %+v", appended)
	}
	if !appended.CreatedAt.Equal(occurredAt) {
		t.Fatalf("expected created_at %s, got %s", occurredAt, appended.CreatedAt)
	}
	if !appended.ExpiresAt.Equal(occurredAt.Add(48 * time.Hour)) {
		t.Fatalf("expected retention horizon 48h after creation, got %s", appended.ExpiresAt)
	}

	fetched, err := store.Get(ctx, "evt_rt_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.ID != "evt_rt_1" || fetched.Type != "invoice.created" || fetched.Source != "billing" {
		t.Fatalf("round trip drifted: %+v", fetched)
	}
	if string(fetched.Payload) != `{"invoice":"inv_42","amount":1999}` {
		t.Fatalf("payload drifted: %s", fetched.Payload)
	}
	if !fetched.CreatedAt.Equal(occurredAt) {
		t.Fatalf("stored created_at drifted: %s", fetched.CreatedAt)
	}

	if _, err := store.Append(ctx, core.AppendEventInput{
		ID:   "evt_rt_1",
		Type: "invoice.created",
	}); !core.IsConflict(err) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}

	minted, err := store.Append(ctx, core.AppendEventInput{
		Type:   "invoice.created",
		Source: "billing",
	})
	if err != nil {
		t.Fatalf("append without id: %v", err)
	}
	if minted.ID == "" || minted.ID == "evt_rt_1" {
		t.Fatalf("expected minted id, got %q", minted.ID)
	}

	if _, err := store.Append(ctx, core.AppendEventInput{Source: "billing"}); !core.IsValidation(err) {
		t.Fatalf("expected validation error for missing type, got %v", err)
	}
}

func TestEventStore_UpsertReceivedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newEventStoreFixture(t)
	defer cleanup()

	first, duplicate, err := store.UpsertReceived(ctx, core.AppendEventInput{
		ID:      "evt_up_1",
		Type:    "order.placed",
		Source:  "shop",
		Payload: []byte(`{"order":"ord_1"}`),
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if duplicate {
		t.Fatal("expected first receipt to be new")
	}
	if first.Status != core.EventStatusPending {
		t.Fatalf("expected pending receipt, got %s", first.Status)
	}

	replay, duplicate, err := store.UpsertReceived(ctx, core.AppendEventInput{
		ID:      "evt_up_1",
		Type:    "order.placed",
		Source:  "shop",
		Payload: []byte(`{"order":"tampered"}`),
	})
	if err != nil {
		t.Fatalf("replayed upsert: %v", err)
	}
	if !duplicate {
		t.Fatal("expected replay to be reported as duplicate")
	}
	if string(replay.Payload) != `{"order":"ord_1"}` {
		t.Fatalf("replay must not mutate the stored payload, got %s", replay.Payload)
	}

	minted, duplicate, err := store.UpsertReceived(ctx, core.AppendEventInput{
		Type:   "order.placed",
		Source: "shop",
	})
	if err != nil {
		t.Fatalf("upsert without id: %v", err)
	}
	if duplicate || minted.ID == "" {
		t.Fatalf("expected fresh receipt with minted id, got duplicate=%v id=%q", duplicate, minted.ID)
	}
}

func TestEventStore_ListPendingOrderingAndDeferredWindow(t *testing.T) {
	ctx := context.Background()
	store, clock, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_list_1", clockStart.Add(-3*time.Second))
	mustAppendAt(t, store, "evt_list_2", clockStart.Add(-2*time.Second))
	mustAppendAt(t, store, "evt_list_3", clockStart.Add(-time.Second))

	if _, err := store.MarkRetryOrFailed(ctx, "evt_list_2", errors.New("slow down"), clockStart.Add(time.Minute)); err != nil {
		t.Fatalf("defer evt_list_2: %v", err)
	}

	due, err := store.ListPending(ctx, core.ListPendingInput{})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	assertEventIDs(t, due, "evt_list_1", "evt_list_3")

	all, err := store.ListPending(ctx, core.ListPendingInput{IncludeDeferred: true})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	assertEventIDs(t, all, "evt_list_1", "evt_list_2", "evt_list_3")

	newest, err := store.ListPending(ctx, core.ListPendingInput{NewestFirst: true, IncludeDeferred: true})
	if err != nil {
		t.Fatalf("list newest first: %v", err)
	}
	assertEventIDs(t, newest, "evt_list_3", "evt_list_2", "evt_list_1")

	capped, err := store.ListPending(ctx, core.ListPendingInput{Limit: 1})
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	assertEventIDs(t, capped, "evt_list_1")

	clock.Advance(2 * time.Minute)
	afterWindow, err := store.ListPending(ctx, core.ListPendingInput{})
	if err != nil {
		t.Fatalf("list after backoff window: %v", err)
	}
	assertEventIDs(t, afterWindow, "evt_list_1", "evt_list_2", "evt_list_3")
}

func TestEventStore_TryClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_claim_1", clockStart.Add(-time.Second))

	var (
		mu     sync.Mutex
		wins   int
		errs   []error
		waiter sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		waiter.Add(1)
		go func() {
			defer waiter.Done()
			_, ok, err := store.TryClaim(ctx, "evt_claim_1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				wins++
			}
		}()
	}
	waiter.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected claim errors: %v", errs)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}

	claimed, err := store.Get(ctx, "evt_claim_1")
	if err != nil {
		t.Fatalf("get claimed: %v", err)
	}
	if claimed.Status != core.EventStatusInFlight || claimed.AttemptCount != 1 {
		t.Fatalf("expected single in_flight attempt, got %+v", claimed)
	}
	if claimed.LastAttemptAt == nil || claimed.NextAttemptAt != nil {
		t.Fatalf("expected attempt timestamps stamped, got %+v", claimed)
	}

	if _, _, err := store.TryClaim(ctx, "evt_claim_missing"); !core.IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	if _, err := store.MarkDelivered(ctx, "evt_claim_1", 0); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if _, ok, err := store.TryClaim(ctx, "evt_claim_1"); err != nil || ok {
		t.Fatalf("expected lost claim on delivered event, got ok=%v err=%v", ok, err)
	}
}

func TestEventStore_ClaimDueBatchesOldestFirstAndHonorsBackoff(t *testing.T) {
	ctx := context.Background()
	store, clock, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_due_a", clockStart.Add(-3*time.Second))
	mustAppendAt(t, store, "evt_due_b", clockStart.Add(-2*time.Second))
	mustAppendAt(t, store, "evt_due_c", clockStart.Add(-time.Second))

	if _, err := store.MarkRetryOrFailed(ctx, "evt_due_b", errors.New("upstream 503"), clockStart.Add(30*time.Second)); err != nil {
		t.Fatalf("defer evt_due_b: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	assertEventIDs(t, claimed, "evt_due_a", "evt_due_c")
	for _, event := range claimed {
		if event.Status != core.EventStatusInFlight || event.AttemptCount != 1 {
			t.Fatalf("expected first in_flight attempt, got %+v", event)
		}
	}

	empty, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim due with nothing ready: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected nothing claimable, got %d", len(empty))
	}

	clock.Advance(31 * time.Second)
	resumed, err := store.ClaimDue(ctx, 1)
	if err != nil {
		t.Fatalf("claim after backoff window: %v", err)
	}
	assertEventIDs(t, resumed, "evt_due_b")
	if resumed[0].AttemptCount != 1 {
		t.Fatalf("expected first attempt for deferred event, got %d", resumed[0].AttemptCount)
	}
	if resumed[0].NextAttemptAt != nil {
		t.Fatalf("expected claim to clear the backoff window, got %v", resumed[0].NextAttemptAt)
	}
}

func TestEventStore_MarkDeliveredRecordsLatencyAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, clock, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_done_1", clockStart.Add(-2*time.Second))
	if _, ok, err := store.TryClaim(ctx, "evt_done_1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	clock.Advance(3 * time.Second)
	delivered, err := store.MarkDelivered(ctx, "evt_done_1", 0)
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if delivered.Status != core.EventStatusDelivered {
		t.Fatalf("expected delivered, got %s", delivered.Status)
	}
	if delivered.DeliveryLatency != 5*time.Second {
		t.Fatalf("expected end-to-end latency 5s, got %s", delivered.DeliveryLatency)
	}
	if delivered.LastError != "" || delivered.NextAttemptAt != nil {
		t.Fatalf("expected delivery to clear retry state, got %+v", delivered)
	}

	again, err := store.MarkDelivered(ctx, "evt_done_1", 42*time.Millisecond)
	if err != nil {
		t.Fatalf("repeat mark delivered: %v", err)
	}
	if again.DeliveryLatency != 5*time.Second {
		t.Fatalf("repeat delivery must not rewrite latency, got %s", again.DeliveryLatency)
	}

	mustAppendAt(t, store, "evt_done_2", clockStart)
	if _, ok, err := store.TryClaim(ctx, "evt_done_2"); err != nil || !ok {
		t.Fatalf("claim second: ok=%v err=%v", ok, err)
	}
	explicit, err := store.MarkDelivered(ctx, "evt_done_2", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("mark delivered with measured latency: %v", err)
	}
	if explicit.DeliveryLatency != 1500*time.Millisecond {
		t.Fatalf("expected measured latency 1.5s, got %s", explicit.DeliveryLatency)
	}

	mustAppendAt(t, store, "evt_done_3", clockStart)
	if _, ok, err := store.TryClaim(ctx, "evt_done_3"); err != nil || !ok {
		t.Fatalf("claim third: ok=%v err=%v", ok, err)
	}
	if _, err := store.MarkRetryOrFailed(ctx, "evt_done_3", errors.New("gave up"), time.Time{}); err != nil {
		t.Fatalf("fail third: %v", err)
	}
	if _, err := store.MarkDelivered(ctx, "evt_done_3", 0); !core.IsConflict(err) {
		t.Fatalf("expected conflict delivering a failed event, got %v", err)
	}

	if _, err := store.MarkDelivered(ctx, "evt_done_missing", 0); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventStore_MarkRetryOrFailedSchedulesOrTerminates(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_retry_1", clockStart.Add(-time.Second))
	if _, ok, err := store.TryClaim(ctx, "evt_retry_1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	nextAttempt := clockStart.Add(10 * time.Second)
	scheduled, err := store.MarkRetryOrFailed(ctx, "evt_retry_1", errors.New("boom: 502"), nextAttempt)
	if err != nil {
		t.Fatalf("schedule retry: %v", err)
	}
	if scheduled.Status != core.EventStatusPending {
		t.Fatalf("expected pending after retry scheduling, got %s", scheduled.Status)
	}
	if scheduled.NextAttemptAt == nil || !scheduled.NextAttemptAt.Equal(nextAttempt) {
		t.Fatalf("expected next attempt at %s, got %v", nextAttempt, scheduled.NextAttemptAt)
	}
	if scheduled.LastError != "boom: 502" {
		t.Fatalf("expected failure cause recorded, got %q", scheduled.LastError)
	}
	if scheduled.AttemptCount != 1 {
		t.Fatalf("retry scheduling must not consume an attempt, got %d", scheduled.AttemptCount)
	}

	// Direct claims are a pure status handoff; the backoff window only
	// gates batch claims and due listings.
	reclaimed, ok, err := store.TryClaim(ctx, "evt_retry_1")
	if err != nil || !ok {
		t.Fatalf("claim deferred event: ok=%v err=%v", ok, err)
	}
	if reclaimed.AttemptCount != 2 || reclaimed.NextAttemptAt != nil {
		t.Fatalf("expected second attempt with cleared window, got %+v", reclaimed)
	}

	failed, err := store.MarkRetryOrFailed(ctx, "evt_retry_1", nil, time.Time{})
	if err != nil {
		t.Fatalf("terminal failure: %v", err)
	}
	if failed.Status != core.EventStatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.LastError != "delivery failed" {
		t.Fatalf("expected default failure reason, got %q", failed.LastError)
	}
	if failed.NextAttemptAt != nil {
		t.Fatalf("terminal failure must clear the retry window, got %v", failed.NextAttemptAt)
	}

	refailed, err := store.MarkRetryOrFailed(ctx, "evt_retry_1", errors.New("still down"), time.Time{})
	if err != nil {
		t.Fatalf("repeat terminal failure: %v", err)
	}
	if refailed.Status != core.EventStatusFailed || refailed.LastError != "still down" {
		t.Fatalf("expected failed with updated reason, got %+v", refailed)
	}

	if _, err := store.MarkRetryOrFailed(ctx, "evt_retry_1", errors.New("late retry"), clockStart.Add(time.Hour)); !core.IsConflict(err) {
		t.Fatalf("expected conflict scheduling retry on failed event, got %v", err)
	}

	if _, err := store.MarkRetryOrFailed(ctx, "evt_retry_missing", nil, time.Time{}); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventStore_AcknowledgeCompletesPullConsumption(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_ack_1", clockStart.Add(-4*time.Second))

	acked, err := store.Acknowledge(ctx, "evt_ack_1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != core.EventStatusDelivered {
		t.Fatalf("expected delivered after acknowledge, got %s", acked.Status)
	}
	if acked.DeliveryLatency != 4*time.Second {
		t.Fatalf("expected latency from creation 4s, got %s", acked.DeliveryLatency)
	}

	repeat, err := store.Acknowledge(ctx, "evt_ack_1")
	if err != nil {
		t.Fatalf("repeat acknowledge: %v", err)
	}
	if repeat.Status != core.EventStatusDelivered || repeat.DeliveryLatency != 4*time.Second {
		t.Fatalf("repeat acknowledge drifted: %+v", repeat)
	}

	mustAppendAt(t, store, "evt_ack_2", clockStart.Add(-time.Second))
	if _, ok, err := store.TryClaim(ctx, "evt_ack_2"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, err := store.Acknowledge(ctx, "evt_ack_2"); !core.IsConflict(err) {
		t.Fatalf("expected conflict acknowledging in_flight event, got %v", err)
	}

	if _, err := store.Acknowledge(ctx, "evt_ack_missing"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventStore_ReclaimStaleRequeuesAbandonedClaims(t *testing.T) {
	ctx := context.Background()
	store, clock, cleanup := newEventStoreFixture(t)
	defer cleanup()

	mustAppendAt(t, store, "evt_stale_1", clockStart.Add(-2*time.Second))
	mustAppendAt(t, store, "evt_stale_2", clockStart.Add(-time.Second))

	claimed, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected both events claimed, got %d", len(claimed))
	}

	clock.Advance(10 * time.Minute)
	cutoff := clock.Now().Add(-5 * time.Minute)

	first, err := store.ReclaimStale(ctx, cutoff, 1)
	if err != nil {
		t.Fatalf("reclaim capped: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected capped sweep to reclaim one row, got %d", first)
	}

	rest, err := store.ReclaimStale(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("reclaim remainder: %v", err)
	}
	if rest != 1 {
		t.Fatalf("expected one remaining stale claim, got %d", rest)
	}

	reclaimed, err := store.Get(ctx, "evt_stale_1")
	if err != nil {
		t.Fatalf("get reclaimed: %v", err)
	}
	if reclaimed.Status != core.EventStatusPending {
		t.Fatalf("expected reclaimed event pending, got %s", reclaimed.Status)
	}
	if reclaimed.LastError != "stale claim reclaimed" {
		t.Fatalf("expected reclaim reason recorded, got %q", reclaimed.LastError)
	}
	if reclaimed.NextAttemptAt != nil {
		t.Fatalf("expected reclaimed event immediately due, got %v", reclaimed.NextAttemptAt)
	}
	if reclaimed.AttemptCount != 1 {
		t.Fatalf("reclaim must not consume an attempt, got %d", reclaimed.AttemptCount)
	}

	retried, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim reclaimed rows: %v", err)
	}
	if len(retried) != 2 {
		t.Fatalf("expected both reclaimed rows claimable, got %d", len(retried))
	}
	for _, event := range retried {
		if event.AttemptCount != 2 {
			t.Fatalf("expected second attempt after reclaim, got %+v", event)
		}
	}

	fresh, err := store.ReclaimStale(ctx, clock.Now().Add(-5*time.Minute), 0)
	if err != nil {
		t.Fatalf("reclaim fresh claims: %v", err)
	}
	if fresh != 0 {
		t.Fatalf("fresh claims must survive the sweep, got %d reclaimed", fresh)
	}
}

func TestEventStore_PurgeExpiredEnforcesRetention(t *testing.T) {
	ctx := context.Background()
	store, clock, cleanup := newEventStoreFixture(t, sqlstore.WithRetention(time.Hour))
	defer cleanup()

	mustAppendAt(t, store, "evt_old", clockStart.Add(-2*time.Hour))
	mustAppendAt(t, store, "evt_fresh", clockStart)

	if _, err := store.Get(ctx, "evt_old"); !core.IsNotFound(err) {
		t.Fatalf("expected expired row invisible to reads, got %v", err)
	}

	pending, err := store.ListPending(ctx, core.ListPendingInput{IncludeDeferred: true})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	assertEventIDs(t, pending, "evt_fresh")

	purged, err := store.PurgeExpired(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one expired row purged, got %d", purged)
	}

	again, err := store.PurgeExpired(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("repeat purge: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected nothing left to purge, got %d", again)
	}

	if _, err := store.Get(ctx, "evt_fresh"); err != nil {
		t.Fatalf("fresh row must survive the purge: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := store.Get(ctx, "evt_fresh"); !core.IsNotFound(err) {
		t.Fatalf("expected fresh row to age out, got %v", err)
	}
	aged, err := store.PurgeExpired(ctx, clock.Now(), 10)
	if err != nil {
		t.Fatalf("purge aged rows: %v", err)
	}
	if aged != 1 {
		t.Fatalf("expected aged row purged, got %d", aged)
	}
}

func TestRepositoryFactory_BuildsCachedEventStore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}

	clock := newTestClock(clockStart)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(
		client,
		sqlstore.WithEventStoreOptions(sqlstore.WithClock(clock.Now)),
		sqlstore.WithCacheService(cacheService),
	)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	store := factory.EventStore()
	if store == nil {
		t.Fatal("expected event store from factory")
	}
	if _, ok := store.(*sqlstore.CachedEventStore); !ok {
		t.Fatalf("expected cached event store, got %T", store)
	}
	if factory.DB() == nil {
		t.Fatal("expected bun handle from factory")
	}

	appended, err := store.Append(ctx, core.AppendEventInput{
		ID:     "evt_factory_1",
		Type:   "invoice.created",
		Source: "billing",
	})
	if err != nil {
		t.Fatalf("append through factory store: %v", err)
	}
	fetched, err := store.Get(ctx, appended.ID)
	if err != nil {
		t.Fatalf("get through factory store: %v", err)
	}
	if fetched.ID != appended.ID || fetched.Status != core.EventStatusPending {
		t.Fatalf("factory store round trip drifted: %+v", fetched)
	}
}

func mustAppendAt(t *testing.T, store core.EventStore, id string, occurredAt time.Time) core.Event {
	t.Helper()

	event, err := store.Append(context.Background(), core.AppendEventInput{
		ID:         id,
		Type:       "invoice.created",
		Source:     "billing",
		Payload:    []byte(`{"invoice":"inv_1"}`),
		OccurredAt: occurredAt,
	})
	if err != nil {
		t.Fatalf("append %s: %v", id, err)
	}
	return event
}

func assertEventIDs(t *testing.T, events []core.Event, want ...string) {
	t.Helper()

	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), eventIDs(events))
	}
	for i, id := range want {
		if events[i].ID != id {
			t.Fatalf("expected event %d to be %s, got %s (order: %v)", i, id, events[i].ID, eventIDs(events))
		}
	}
}

func eventIDs(events []core.Event) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}
