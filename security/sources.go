package security

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-relay/core"
)

// StaticSecretSource resolves names against a fixed map. Suited to tests and
// deployments where secrets arrive through configuration.
type StaticSecretSource struct {
	values map[string]string
}

func NewStaticSecretSource(values map[string]string) *StaticSecretSource {
	copied := make(map[string]string, len(values))
	for name, value := range values {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		copied[trimmed] = value
	}
	return &StaticSecretSource{values: copied}
}

func (s *StaticSecretSource) Resolve(_ context.Context, name string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: secret source is nil")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("security: secret name is required")
	}
	value, ok := s.values[trimmed]
	if !ok {
		return "", fmt.Errorf("security: secret %q not found", trimmed)
	}
	return value, nil
}

// EnvSecretSource resolves names from the process environment. Dots, dashes,
// and spaces in the name map to underscores and the result is upper-cased:
// "delivery.signing_secret" reads DELIVERY_SIGNING_SECRET, or
// RELAY_DELIVERY_SIGNING_SECRET with Prefix "RELAY".
type EnvSecretSource struct {
	Prefix string
}

func (s EnvSecretSource) Resolve(_ context.Context, name string) (string, error) {
	key := envKey(s.Prefix, name)
	if key == "" {
		return "", fmt.Errorf("security: secret name is required")
	}
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("security: environment variable %s is not set", key)
	}
	return value, nil
}

func envKey(prefix, name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	replacer := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	key := strings.ToUpper(replacer.Replace(trimmed))
	cleaned := strings.Trim(strings.ToUpper(strings.TrimSpace(prefix)), "_")
	if cleaned != "" {
		key = cleaned + "_" + key
	}
	return key
}

var (
	_ core.SecretSource = (*StaticSecretSource)(nil)
	_ core.SecretSource = EnvSecretSource{}
)
