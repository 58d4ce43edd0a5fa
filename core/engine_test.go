package core

import (
	"context"
	"testing"
	"time"
)

func TestEnginePublishAndDispatchRetryThenSuccess(t *testing.T) {
	clock := newManualClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	sender := newScriptedSender(
		scriptedDelivery{status: 503},
		scriptedDelivery{status: 200},
	)
	engine, err := NewEngine(Config{},
		WithClock(clock.Now),
		WithDeliverySender(sender),
		WithRetryPolicy(&ExponentialBackoffPolicy{
			Initial:     time.Second,
			Ceiling:     time.Minute,
			MaxAttempts: 3,
		}),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	published, err := engine.Publish(ctx, PublishInput{
		ID:      "evt_flaky",
		Type:    "order.created",
		Source:  "billing",
		Payload: []byte(`{"order":"ord_1"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.Status != EventStatusPending {
		t.Fatalf("expected pending after publish, got %s", published.Status)
	}

	stats, err := engine.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("first dispatch cycle: %v", err)
	}
	if stats.Claimed != 1 || stats.Retried != 1 {
		t.Fatalf("unexpected first cycle stats: %+v", stats)
	}

	clock.Advance(time.Second)
	stats, err = engine.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("second dispatch cycle: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected second cycle stats: %+v", stats)
	}

	event, err := engine.GetEvent(ctx, "evt_flaky")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != EventStatusDelivered {
		t.Fatalf("expected delivered, got %s", event.Status)
	}
	if event.AttemptCount != 2 {
		t.Fatalf("expected two attempts, got %d", event.AttemptCount)
	}
	if event.DeliveryLatency != time.Second {
		t.Fatalf("expected 1s end-to-end latency, got %s", event.DeliveryLatency)
	}
	if sender.callCount() != 2 {
		t.Fatalf("expected two sends, got %d", sender.callCount())
	}

	remaining, err := engine.Poll(ctx, PollInput{Limit: 10})
	if err != nil {
		t.Fatalf("poll after delivery: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected delivered event to leave the pending queue, got %+v", remaining)
	}
}

func TestEnginePublishValidatesPayloadSize(t *testing.T) {
	engine, err := NewEngine(Config{MaxPayloadBytes: 8})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Publish(context.Background(), PublishInput{
		Type:    "order.created",
		Payload: []byte("123456789"),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for oversized payload, got %v", err)
	}

	if _, err := engine.Publish(context.Background(), PublishInput{
		Type:    "order.created",
		Payload: []byte("12345678"),
	}); err != nil {
		t.Fatalf("expected payload at limit to pass, got %v", err)
	}
}

func TestEnginePublishRejectsNonJSONPayload(t *testing.T) {
	engine, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = engine.Publish(context.Background(), PublishInput{
		Type:    "order.created",
		Payload: []byte("order 42 shipped"),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for non-JSON payload, got %v", err)
	}
}

func TestEnginePublishRequiresType(t *testing.T) {
	engine, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Publish(context.Background(), PublishInput{Source: "billing"}); !IsValidation(err) {
		t.Fatalf("expected validation error for missing type, got %v", err)
	}
}

func TestEngineReceiveIsIdempotent(t *testing.T) {
	clock := newManualClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	engine, err := NewEngine(Config{}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()
	input := ReceiveInput{
		EventID:   "upstream_1",
		EventType: "invoice.paid",
		Source:    "stripe",
		Payload:   []byte(`{"invoice":"inv_1"}`),
	}

	first, err := engine.Receive(ctx, input)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("expected first receive to insert")
	}
	if first.EventID != "upstream_1" {
		t.Fatalf("expected upstream id kept, got %q", first.EventID)
	}

	clock.Advance(time.Minute)
	second, err := engine.Receive(ctx, input)
	if err != nil {
		t.Fatalf("replayed receive: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected replay to report duplicate")
	}
	if !second.ReceivedAt.Equal(first.ReceivedAt) {
		t.Fatalf("expected replay to keep original receipt time")
	}
}

func TestEnginePollOrders(t *testing.T) {
	clock := newManualClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	engine, err := NewEngine(Config{ConsumeMode: "pull"}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		if _, err := engine.Publish(ctx, PublishInput{ID: id, Type: "order.created"}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
		clock.Advance(time.Second)
	}

	newest, err := engine.Poll(ctx, PollInput{})
	if err != nil {
		t.Fatalf("poll default: %v", err)
	}
	if len(newest) != 3 || newest[0].ID != "evt_c" || newest[2].ID != "evt_a" {
		t.Fatalf("expected newest-first default order, got %v", eventIDs(newest))
	}

	oldest, err := engine.Poll(ctx, PollInput{Order: PollOrderOldest})
	if err != nil {
		t.Fatalf("poll oldest: %v", err)
	}
	if len(oldest) != 3 || oldest[0].ID != "evt_a" {
		t.Fatalf("expected oldest-first order, got %v", eventIDs(oldest))
	}

	if _, err := engine.Poll(ctx, PollInput{Order: "sideways"}); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown order, got %v", err)
	}
}

func TestEnginePollClampsLimit(t *testing.T) {
	engine, err := NewEngine(Config{
		ConsumeMode: "pull",
		Inbox:       InboxConfig{MaxPollLimit: 2},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		if _, err := engine.Publish(ctx, PublishInput{ID: id, Type: "order.created"}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	events, err := engine.Poll(ctx, PollInput{Limit: 50})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit clamped to 2, got %d", len(events))
	}
}

func TestEngineAcknowledgePullFlow(t *testing.T) {
	engine, err := NewEngine(Config{ConsumeMode: "pull"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	if _, err := engine.Publish(ctx, PublishInput{ID: "evt_pull", Type: "order.created"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	acked, err := engine.Acknowledge(ctx, "evt_pull")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != EventStatusDelivered {
		t.Fatalf("expected delivered after ack, got %s", acked.Status)
	}

	if _, err := engine.Acknowledge(ctx, "evt_pull"); err != nil {
		t.Fatalf("expected repeated ack to be idempotent, got %v", err)
	}

	if _, err := engine.Publish(ctx, PublishInput{ID: "evt_busy", Type: "order.created"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, _, err := engine.Store().TryClaim(ctx, "evt_busy"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := engine.Acknowledge(ctx, "evt_busy"); !IsConflict(err) {
		t.Fatalf("expected conflict acknowledging claimed event, got %v", err)
	}
}

func TestEngineAcknowledgeMissingEvent(t *testing.T) {
	engine, err := NewEngine(Config{ConsumeMode: "pull"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Acknowledge(context.Background(), "evt_missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngineDispatchWithoutSenderFails(t *testing.T) {
	engine, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	stats, err := engine.DispatchPending(context.Background(), 10)
	if err == nil {
		t.Fatalf("expected dispatch to fail without a delivery sender")
	}
	if stats.Claimed != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestEngineDispatchRefusedInPullMode(t *testing.T) {
	sender := newScriptedSender(scriptedDelivery{status: 200})
	engine, err := NewEngine(Config{ConsumeMode: "pull"}, WithDeliverySender(sender))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.DispatchPending(context.Background(), 10); !IsConflict(err) {
		t.Fatalf("expected conflict in pull mode, got %v", err)
	}
	if sender.callCount() != 0 {
		t.Fatalf("expected no delivery attempts in pull mode")
	}
}
