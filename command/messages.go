package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	TypePublish         = "relay.command.event.publish"
	TypeReceive         = "relay.command.event.receive"
	TypeAcknowledge     = "relay.command.inbox.acknowledge"
	TypeDispatchPending = "relay.command.dispatch.run"
	TypePurgeExpired    = "relay.command.retention.purge"
)

// PublishMessage appends a producer-originated event to the buffer.
type PublishMessage struct {
	Input core.PublishInput
}

func (PublishMessage) Type() string { return TypePublish }

func (m PublishMessage) Validate() error {
	if strings.TrimSpace(m.Input.Type) == "" {
		return core.NewValidationError("command: event type is required", nil)
	}
	return nil
}

// ReceiveMessage records a verified inbound delivery. Signature verification
// happens at the transport; by the time this message is dispatched the body
// is trusted.
type ReceiveMessage struct {
	Input core.ReceiveInput
}

func (ReceiveMessage) Type() string { return TypeReceive }

func (m ReceiveMessage) Validate() error {
	if strings.TrimSpace(m.Input.EventType) == "" {
		return core.NewValidationError("command: event type is required", nil)
	}
	return nil
}

// AcknowledgeMessage completes pull-side consumption of one event.
type AcknowledgeMessage struct {
	EventID string
}

func (AcknowledgeMessage) Type() string { return TypeAcknowledge }

func (m AcknowledgeMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewValidationError("command: event id is required", nil)
	}
	return nil
}

// DispatchPendingMessage runs one dispatch cycle. Stale claims are reclaimed
// as part of the cycle and reported in the stored stats. A zero BatchSize
// uses the engine's configured batch size.
type DispatchPendingMessage struct {
	BatchSize int
}

func (DispatchPendingMessage) Type() string { return TypeDispatchPending }

func (m DispatchPendingMessage) Validate() error {
	if m.BatchSize < 0 {
		return core.NewValidationError(
			"command: batch size must be >= 0",
			map[string]any{"batch_size": m.BatchSize},
		)
	}
	return nil
}

// PurgeExpiredMessage deletes events past their retention horizon. A zero
// Before uses the engine clock; a zero Limit uses the configured purge limit.
type PurgeExpiredMessage struct {
	Before time.Time
	Limit  int
}

func (PurgeExpiredMessage) Type() string { return TypePurgeExpired }

func (m PurgeExpiredMessage) Validate() error {
	if m.Limit < 0 {
		return core.NewValidationError(
			"command: purge limit must be >= 0",
			map[string]any{"limit": m.Limit},
		)
	}
	return nil
}
