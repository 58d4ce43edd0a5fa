package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
)

func deliveredEvent() core.Event {
	return core.Event{
		ID:        "evt_42",
		Type:      "order.created",
		Source:    "billing",
		Payload:   []byte(`{"order":"ord_42","amount":100}`),
		Status:    core.EventStatusInFlight,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHTTPSender_PostsEnvelopeToTarget(t *testing.T) {
	var receivedMethod string
	var receivedContentType string
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedContentType = strings.TrimSpace(r.Header.Get("Content-Type"))
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &HTTPSender{
		Client:    server.Client(),
		TargetURL: server.URL,
	}
	event := deliveredEvent()

	result, err := sender.Send(context.Background(), event)
	if err != nil {
		t.Fatalf("send event: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", result.StatusCode)
	}
	if result.Duration <= 0 {
		t.Fatalf("expected a positive attempt duration, got %v", result.Duration)
	}
	if receivedMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", receivedMethod)
	}
	if receivedContentType != "application/json" {
		t.Fatalf("unexpected content type: %q", receivedContentType)
	}

	var envelope Envelope
	if err := json.Unmarshal(receivedBody, &envelope); err != nil {
		t.Fatalf("decode delivery envelope: %v", err)
	}
	if envelope.EventType != event.Type {
		t.Fatalf("expected event_type %q, got %q", event.Type, envelope.EventType)
	}
	if envelope.EventID != event.ID {
		t.Fatalf("expected event_id %q, got %q", event.ID, envelope.EventID)
	}
	if envelope.Source != event.Source {
		t.Fatalf("expected source %q, got %q", event.Source, envelope.Source)
	}
	if string(envelope.Payload) != string(event.Payload) {
		t.Fatalf("expected payload passed through untouched, got %s", envelope.Payload)
	}
	if !envelope.Timestamp.Equal(event.CreatedAt) {
		t.Fatalf("expected envelope timestamp %v, got %v", event.CreatedAt, envelope.Timestamp)
	}
}

func TestHTTPSender_SignsOutboundBodyWhenConfigured(t *testing.T) {
	var receivedSignature string
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSignature = strings.TrimSpace(r.Header.Get(DefaultSignatureHeader))
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &HTTPSender{
		Client:        server.Client(),
		TargetURL:     server.URL,
		SigningSecret: "delivery.signing_secret",
		Secrets: staticValueSource{values: map[string]string{
			"delivery.signing_secret": "s3cret",
		}},
	}

	if _, err := sender.Send(context.Background(), deliveredEvent()); err != nil {
		t.Fatalf("send signed event: %v", err)
	}
	if receivedSignature == "" {
		t.Fatalf("expected a signature header on the outbound request")
	}

	err := NewHMACVerifier("s3cret").Verify(context.Background(), ReceiveRequest{
		Headers: map[string]string{DefaultSignatureHeader: receivedSignature},
		Body:    receivedBody,
	})
	if err != nil {
		t.Fatalf("expected outbound signature to verify against the raw body: %v", err)
	}
}

func TestHTTPSender_LeavesRequestUnsignedWithoutSecret(t *testing.T) {
	var sawSignatureHeader bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawSignatureHeader = r.Header[DefaultSignatureHeader]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &HTTPSender{Client: server.Client(), TargetURL: server.URL}
	if _, err := sender.Send(context.Background(), deliveredEvent()); err != nil {
		t.Fatalf("send unsigned event: %v", err)
	}
	if sawSignatureHeader {
		t.Fatalf("expected no signature header when signing is not configured")
	}
}

func TestHTTPSender_ResolvesTargetFromSecretSource(t *testing.T) {
	var hits int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := &HTTPSender{
		Client:          server.Client(),
		TargetURLSecret: "delivery.target_url",
		Secrets: staticValueSource{values: map[string]string{
			"delivery.target_url": server.URL,
		}},
	}

	result, err := sender.Send(context.Background(), deliveredEvent())
	if err != nil {
		t.Fatalf("send via resolved target: %v", err)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", result.StatusCode)
	}
	if hits != 1 {
		t.Fatalf("expected one delivery, got %d", hits)
	}
}

func TestHTTPSender_ReportsNonSuccessStatusWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sender := &HTTPSender{Client: server.Client(), TargetURL: server.URL}

	result, err := sender.Send(context.Background(), deliveredEvent())
	if err != nil {
		t.Fatalf("expected non-2xx to come back as a result, got error %v", err)
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", result.StatusCode)
	}
}

func TestHTTPSender_SurfacesTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	sender := &HTTPSender{
		Client:    &http.Client{Timeout: time.Second},
		TargetURL: target,
	}

	if _, err := sender.Send(context.Background(), deliveredEvent()); err == nil {
		t.Fatalf("expected transport failure against a closed server")
	}
}

func TestHTTPSender_FailsWithoutTarget(t *testing.T) {
	sender := &HTTPSender{Client: &http.Client{}}

	_, err := sender.Send(context.Background(), deliveredEvent())
	if err == nil || !strings.Contains(err.Error(), "target url") {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestHTTPSender_FailsWhenSigningSecretUnresolvable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("expected no delivery when the signing secret cannot be resolved")
	}))
	defer server.Close()

	sender := &HTTPSender{
		Client:        server.Client(),
		TargetURL:     server.URL,
		SigningSecret: "delivery.signing_secret",
		Secrets:       staticValueSource{values: map[string]string{}},
	}

	if _, err := sender.Send(context.Background(), deliveredEvent()); err == nil {
		t.Fatalf("expected unresolvable signing secret to fail the attempt")
	}
}

func TestNewHTTPSender_DerivesClientTimeoutFromConfig(t *testing.T) {
	sender := NewHTTPSender(core.DispatchConfig{
		TargetURL:             "https://consumer.example.com/hooks",
		AttemptTimeoutSeconds: 5,
	}, nil)

	client, ok := sender.Client.(*http.Client)
	if !ok {
		t.Fatalf("expected a default *http.Client")
	}
	if client.Timeout != 5*time.Second {
		t.Fatalf("expected 5s client timeout, got %v", client.Timeout)
	}

	fallback := NewHTTPSender(core.DispatchConfig{TargetURL: "https://consumer.example.com"}, nil)
	if c, ok := fallback.Client.(*http.Client); !ok || c.Timeout != defaultSendTimeout {
		t.Fatalf("expected default timeout %v, got %v", defaultSendTimeout, c.Timeout)
	}
}
