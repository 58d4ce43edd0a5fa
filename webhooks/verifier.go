package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/core"
)

// DefaultSignatureHeader carries the HMAC-SHA256 of the raw request body.
const DefaultSignatureHeader = "X-Webhook-Signature"

const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// HeaderHMACVerifier checks an HMAC-SHA256 signature carried in a request
// header. Secrets may hold more than one candidate so a rotation window keeps
// verifying deliveries signed with the previous secret; every candidate is
// compared in constant time.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secrets  []string
	Encoding string // hex | base64
}

// NewHMACVerifier builds the relay default: hex signatures in
// X-Webhook-Signature.
func NewHMACVerifier(secrets ...string) HeaderHMACVerifier {
	return HeaderHMACVerifier{
		Header:   DefaultSignatureHeader,
		Secrets:  trimSecrets(secrets),
		Encoding: EncodingHex,
	}
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req ReceiveRequest) error {
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}
	header := strings.TrimSpace(headerValue(req.Headers, headerName))
	if header == "" {
		return fmt.Errorf("webhooks: %s header is required", headerName)
	}
	secrets := trimSecrets(v.Secrets)
	if len(secrets) == 0 {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}
	provided, err := decodeSignature(v.Encoding, signature)
	if err != nil {
		return err
	}

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		_, _ = mac.Write(req.Body)
		if subtle.ConstantTimeCompare(provided, mac.Sum(nil)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("webhooks: signature verification failed")
}

// CandidateResolver yields every secret value currently valid for a name.
// Rotating sources return the new and the previous secret while a rotation
// window is open.
type CandidateResolver interface {
	ResolveCandidates(ctx context.Context, name string) ([]string, error)
}

// SecretSourceHMACVerifier resolves the signing secret on every request, so
// cached or rotating sources take effect without rebuilding the receiver.
type SecretSourceHMACVerifier struct {
	Header   string
	Prefix   string
	Encoding string
	Name     string
	Source   core.SecretSource
}

func (v SecretSourceHMACVerifier) Verify(ctx context.Context, req ReceiveRequest) error {
	name := strings.TrimSpace(v.Name)
	if name == "" {
		return fmt.Errorf("webhooks: signing secret name is required")
	}
	if v.Source == nil {
		return fmt.Errorf("webhooks: secret source is required to resolve %q", name)
	}

	var candidates []string
	if resolver, ok := v.Source.(CandidateResolver); ok {
		resolved, err := resolver.ResolveCandidates(ctx, name)
		if err != nil {
			return fmt.Errorf("webhooks: resolve signing secret: %w", err)
		}
		candidates = resolved
	} else {
		secret, err := v.Source.Resolve(ctx, name)
		if err != nil {
			return fmt.Errorf("webhooks: resolve signing secret: %w", err)
		}
		candidates = []string{secret}
	}

	return HeaderHMACVerifier{
		Header:   v.Header,
		Prefix:   v.Prefix,
		Encoding: v.Encoding,
		Secrets:  candidates,
	}.Verify(ctx, req)
}

// HeaderTokenVerifier checks a static shared token carried in a request
// header, for upstreams that cannot sign bodies.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req ReceiveRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	headerName := strings.TrimSpace(v.Header)
	actual := strings.TrimSpace(headerValue(req.Headers, headerName))
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", headerName)
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

// HMACSigner produces the signature value the relay's verifier accepts:
// HMAC-SHA256 over the raw outbound body, hex by default.
type HMACSigner struct {
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (s HMACSigner) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)

	var encoded string
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case EncodingBase64:
		encoded = base64.StdEncoding.EncodeToString(sum)
	default:
		encoded = hex.EncodeToString(sum)
	}
	return strings.TrimSpace(s.Prefix) + encoded
}

func decodeSignature(encoding, signature string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return nil, fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		return decoded, nil
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return nil, fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		return decoded, nil
	}
}

func trimSecrets(secrets []string) []string {
	out := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
