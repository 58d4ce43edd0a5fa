package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

type SecretSourceFailurePolicy string

const (
	SecretSourceFailurePolicyStrict   SecretSourceFailurePolicy = "strict_fail"
	SecretSourceFailurePolicyFallback SecretSourceFailurePolicy = "fallback_allowed"
)

// SecretSourceDiagnostic reports a failover decision. It carries the secret
// name, never the value.
type SecretSourceDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     SecretSourceFailurePolicy
	Outcome    string
	Name       string
	Error      string
}

type SecretSourceDiagnosticHook func(event SecretSourceDiagnostic)

type FailoverOption func(*FailoverSecretSource)

// FailoverSecretSource resolves through a primary source and, depending on
// policy, a fallback. A configured rotation window widens ResolveCandidates
// to include the fallback value while the window is open, which is how the
// receiver keeps verifying deliveries signed with the previous secret during
// a rotation.
type FailoverSecretSource struct {
	primary  core.SecretSource
	fallback core.SecretSource
	policy   SecretSourceFailurePolicy
	rotation *RotationWindow
	hook     SecretSourceDiagnosticHook
	now      func() time.Time
}

func NewFailoverSecretSource(primary core.SecretSource, opts ...FailoverOption) (*FailoverSecretSource, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret source is required")
	}
	source := &FailoverSecretSource{
		primary: primary,
		policy:  SecretSourceFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(source)
	}
	source.policy = normalizeFailurePolicy(source.policy)
	if source.policy == SecretSourceFailurePolicyFallback && source.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback secret source")
	}
	if source.rotation != nil && source.fallback == nil {
		return nil, fmt.Errorf("security: rotation window requires a configured fallback secret source")
	}
	if source.now == nil {
		source.now = func() time.Time { return time.Now().UTC() }
	}
	return source, nil
}

func WithFallbackSecretSource(source core.SecretSource) FailoverOption {
	return func(f *FailoverSecretSource) {
		if f == nil {
			return
		}
		f.fallback = source
	}
}

func WithSecretSourceFailurePolicy(policy SecretSourceFailurePolicy) FailoverOption {
	return func(f *FailoverSecretSource) {
		if f == nil {
			return
		}
		f.policy = normalizeFailurePolicy(policy)
	}
}

// WithRotationWindow marks the span during which the fallback source still
// holds an accepted secret.
func WithRotationWindow(window RotationWindow) FailoverOption {
	return func(f *FailoverSecretSource) {
		if f == nil {
			return
		}
		f.rotation = &window
	}
}

func WithSecretSourceDiagnostics(hook SecretSourceDiagnosticHook) FailoverOption {
	return func(f *FailoverSecretSource) {
		if f == nil {
			return
		}
		f.hook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverSecretSource) {
		if f == nil {
			return
		}
		f.now = now
	}
}

func (f *FailoverSecretSource) Resolve(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", fmt.Errorf("security: secret source is nil")
	}
	value, err := f.primary.Resolve(ctx, name)
	if err == nil {
		return value, nil
	}
	f.emit("resolve", "primary_failed", name, err)
	if f.policy == SecretSourceFailurePolicyStrict || f.fallback == nil {
		return "", fmt.Errorf("security: primary resolve failed with %s policy: %w", f.policy, err)
	}
	fallbackValue, fallbackErr := f.fallback.Resolve(ctx, name)
	if fallbackErr != nil {
		f.emit("resolve", "fallback_failed", name, fallbackErr)
		return "", fmt.Errorf("security: primary resolve failed: %v; fallback resolve failed: %w", err, fallbackErr)
	}
	f.emit("resolve", "fallback_succeeded", name, err)
	return fallbackValue, nil
}

// ResolveCandidates returns every value currently accepted for the name: the
// primary's, plus the fallback's while the rotation window is open. When the
// primary fails and policy allows it, the fallback value stands in alone.
func (f *FailoverSecretSource) ResolveCandidates(ctx context.Context, name string) ([]string, error) {
	if f == nil {
		return nil, fmt.Errorf("security: secret source is nil")
	}
	candidates := make([]string, 0, 2)

	primaryValue, primaryErr := f.primary.Resolve(ctx, name)
	if primaryErr == nil {
		candidates = append(candidates, primaryValue)
	} else {
		f.emit("candidates", "primary_failed", name, primaryErr)
		if f.policy == SecretSourceFailurePolicyStrict || f.fallback == nil {
			return nil, fmt.Errorf("security: primary resolve failed with %s policy: %w", f.policy, primaryErr)
		}
	}

	if f.fallback != nil && (primaryErr != nil || f.rotationOpen()) {
		fallbackValue, fallbackErr := f.fallback.Resolve(ctx, name)
		switch {
		case fallbackErr == nil:
			if primaryErr != nil || fallbackValue != primaryValue {
				candidates = append(candidates, fallbackValue)
			}
			if primaryErr != nil {
				f.emit("candidates", "fallback_succeeded", name, primaryErr)
			}
		case primaryErr != nil:
			f.emit("candidates", "fallback_failed", name, fallbackErr)
			return nil, fmt.Errorf("security: primary resolve failed: %v; fallback resolve failed: %w", primaryErr, fallbackErr)
		default:
			// The primary already produced a candidate; a failed rotation
			// lookup narrows the window instead of failing the request.
			f.emit("candidates", "fallback_failed", name, fallbackErr)
		}
	}
	return candidates, nil
}

func (f *FailoverSecretSource) rotationOpen() bool {
	if f == nil || f.rotation == nil {
		return false
	}
	return f.rotation.Allows(f.now())
}

func (f *FailoverSecretSource) emit(operation string, outcome string, name string, err error) {
	if f == nil || f.hook == nil {
		return
	}
	now := f.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	f.hook(SecretSourceDiagnostic{
		OccurredAt: now().UTC(),
		Operation:  operation,
		Policy:     f.policy,
		Outcome:    outcome,
		Name:       strings.TrimSpace(name),
		Error:      msg,
	})
}

func normalizeFailurePolicy(policy SecretSourceFailurePolicy) SecretSourceFailurePolicy {
	normalized := SecretSourceFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case SecretSourceFailurePolicyFallback:
		return SecretSourceFailurePolicyFallback
	default:
		return SecretSourceFailurePolicyStrict
	}
}

var _ core.SecretSource = (*FailoverSecretSource)(nil)
