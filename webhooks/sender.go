package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const defaultSendTimeout = 30 * time.Second

// responseDrainBytes bounds how much of an ignored response body is read
// before closing, enough to keep connections reusable.
const responseDrainBytes int64 = 64 << 10

// HTTPDoer is the transport the sender posts through. *http.Client
// satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender posts events to the consumer endpoint as relay envelopes. It
// never retries internally; the dispatcher owns retry scheduling so attempts
// survive process restarts.
type HTTPSender struct {
	Client HTTPDoer
	// TargetURL wins when set; otherwise TargetURLSecret is resolved through
	// Secrets on every send so endpoint rotations apply without a restart.
	TargetURL       string
	TargetURLSecret string
	// SigningSecret names the outbound signing key in Secrets. Empty leaves
	// outbound requests unsigned.
	SigningSecret     string
	SignatureHeader   string
	SignaturePrefix   string
	SignatureEncoding string
	Secrets           core.SecretSource
}

// NewHTTPSender wires a sender from the dispatch configuration. The attempt
// timeout doubles as the HTTP client timeout.
func NewHTTPSender(cfg core.DispatchConfig, secrets core.SecretSource) *HTTPSender {
	timeout := cfg.AttemptTimeout()
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &HTTPSender{
		Client:          &http.Client{Timeout: timeout},
		TargetURL:       strings.TrimSpace(cfg.TargetURL),
		TargetURLSecret: strings.TrimSpace(cfg.TargetURLSecret),
		SigningSecret:   strings.TrimSpace(cfg.SigningSecret),
		Secrets:         secrets,
	}
}

// Send posts one event and reports the raw outcome. Transport failures come
// back as errors; any HTTP response, success or not, comes back as a result
// for the dispatcher to classify.
func (s *HTTPSender) Send(ctx context.Context, event core.Event) (core.DeliveryResult, error) {
	if s == nil || s.Client == nil {
		return core.DeliveryResult{}, fmt.Errorf("webhooks: http sender requires a client")
	}

	target, err := s.resolveTarget(ctx)
	if err != nil {
		return core.DeliveryResult{}, err
	}

	var payload json.RawMessage
	if len(event.Payload) > 0 {
		payload = json.RawMessage(event.Payload)
	}
	body, err := json.Marshal(Envelope{
		EventType: event.Type,
		EventID:   event.ID,
		Source:    event.Source,
		Payload:   payload,
		Timestamp: event.CreatedAt,
	})
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("webhooks: encode delivery envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("webhooks: build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := s.sign(ctx, req, body); err != nil {
		return core.DeliveryResult{}, err
	}

	startedAt := time.Now().UTC()
	resp, err := s.Client.Do(req)
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("webhooks: execute delivery request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseDrainBytes))
		_ = resp.Body.Close()
	}()

	return core.DeliveryResult{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(startedAt),
	}, nil
}

func (s *HTTPSender) resolveTarget(ctx context.Context) (string, error) {
	if target := strings.TrimSpace(s.TargetURL); target != "" {
		return target, nil
	}
	name := strings.TrimSpace(s.TargetURLSecret)
	if name == "" {
		return "", fmt.Errorf("webhooks: delivery target url is not configured")
	}
	if s.Secrets == nil {
		return "", fmt.Errorf("webhooks: secret source is required to resolve %q", name)
	}
	target, err := s.Secrets.Resolve(ctx, name)
	if err != nil {
		return "", fmt.Errorf("webhooks: resolve delivery target url: %w", err)
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("webhooks: secret %q resolved to an empty target url", name)
	}
	return strings.TrimSpace(target), nil
}

func (s *HTTPSender) sign(ctx context.Context, req *http.Request, body []byte) error {
	name := strings.TrimSpace(s.SigningSecret)
	if name == "" {
		return nil
	}
	if s.Secrets == nil {
		return fmt.Errorf("webhooks: secret source is required to resolve %q", name)
	}
	secret, err := s.Secrets.Resolve(ctx, name)
	if err != nil {
		return fmt.Errorf("webhooks: resolve signing secret: %w", err)
	}

	header := strings.TrimSpace(s.SignatureHeader)
	if header == "" {
		header = DefaultSignatureHeader
	}
	signer := HMACSigner{
		Prefix:   s.SignaturePrefix,
		Secret:   secret,
		Encoding: s.SignatureEncoding,
	}
	req.Header.Set(header, signer.Sign(body))
	return nil
}

var _ core.DeliverySender = (*HTTPSender)(nil)

var (
	_ Verifier = HeaderHMACVerifier{}
	_ Verifier = SecretSourceHMACVerifier{}
	_ Verifier = HeaderTokenVerifier{}
)
