package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
)

// StatusReceived is the receipt status for every accepted delivery,
// duplicate or not.
const StatusReceived = "received"

// DefaultSource labels stored events when neither the envelope nor the
// receiver configuration names an origin.
const DefaultSource = "webhook"

// ReceiveRequest is one inbound webhook delivery. Body holds the raw bytes
// exactly as read from the wire; signature verification runs over them before
// any decoding, since re-serialization can change byte content.
type ReceiveRequest struct {
	Headers map[string]string
	Body    []byte
}

// Verifier authenticates an inbound delivery before the body is parsed.
type Verifier interface {
	Verify(ctx context.Context, req ReceiveRequest) error
}

// Envelope is the JSON body the receiver decodes and the HTTPSender emits.
// EventID doubles as the idempotency key when the upstream supplies one.
type Envelope struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Receipt acknowledges an accepted delivery. Duplicate marks a replayed
// event id; the upstream sees the same success either way.
type Receipt struct {
	Status    string    `json:"status"`
	EventID   string    `json:"event_id"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Receiver authenticates, decodes, and records inbound webhook deliveries.
// A nil Verifier disables authentication, which is logged as an explicit
// opt-out once per receiver instead of passing silently.
type Receiver struct {
	Service  core.RelayService
	Verifier Verifier
	Logger   core.Logger
	// Source labels stored events when the envelope carries none.
	Source string

	warnOnce sync.Once
}

func NewReceiver(service core.RelayService, verifier Verifier) *Receiver {
	return &Receiver{
		Service:  service,
		Verifier: verifier,
		Source:   DefaultSource,
	}
}

// Receive verifies the delivery, decodes the envelope, and upserts the event.
// Signature mismatches surface as authentication errors before the body is
// parsed; malformed bodies surface as validation errors before the store is
// touched.
func (r *Receiver) Receive(ctx context.Context, req ReceiveRequest) (Receipt, error) {
	if r == nil || r.Service == nil {
		return Receipt{}, fmt.Errorf("webhooks: receiver requires a relay service")
	}

	if r.Verifier != nil {
		if err := r.Verifier.Verify(ctx, req); err != nil {
			return Receipt{}, core.NewAuthenticationError(
				"webhook signature verification failed",
				map[string]any{"reason": err.Error()},
			)
		}
	} else {
		r.warnOnce.Do(func() {
			if r.Logger != nil {
				r.Logger.Warn("signature verification disabled, accepting unsigned webhooks")
			}
		})
	}

	envelope, err := DecodeEnvelope(req.Body)
	if err != nil {
		return Receipt{}, err
	}

	source := strings.TrimSpace(envelope.Source)
	if source == "" {
		source = strings.TrimSpace(r.Source)
	}
	if source == "" {
		source = DefaultSource
	}

	receipt, err := r.Service.Receive(ctx, core.ReceiveInput{
		EventType:  envelope.EventType,
		EventID:    envelope.EventID,
		Source:     source,
		Payload:    []byte(envelope.Payload),
		OccurredAt: envelope.Timestamp,
	})
	if err != nil {
		return Receipt{}, err
	}

	if r.Logger != nil {
		upstreamID := strings.TrimSpace(envelope.EventID)
		if upstreamID == "" {
			upstreamID = "unknown"
		}
		r.Logger.Info("webhook event received",
			"event_id", upstreamID,
			"event_type", envelope.EventType,
			"source", source,
			"duplicate", receipt.Duplicate,
		)
	}

	return Receipt{
		Status:    StatusReceived,
		EventID:   receipt.EventID,
		Duplicate: receipt.Duplicate,
		Timestamp: receipt.ReceivedAt,
	}, nil
}

// DecodeEnvelope parses and validates an inbound body. Failures are
// validation errors raised before any store write.
func DecodeEnvelope(body []byte) (Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Envelope{}, core.NewValidationError("webhook body is required", nil)
	}
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, core.NewValidationError(
			"webhook body is not valid JSON",
			map[string]any{"reason": err.Error()},
		)
	}
	if strings.TrimSpace(envelope.EventType) == "" {
		return Envelope{}, core.NewValidationError("event_type is required", nil)
	}
	return envelope, nil
}
