package core

import (
	"fmt"
	"strings"
	"time"
)

type ConsumeMode string

const (
	ConsumeModePush ConsumeMode = "push"
	ConsumeModePull ConsumeMode = "pull"
)

// RetryConfig tunes the exponential backoff policy. Durations are expressed
// in seconds so the fields map directly onto flat configuration sources.
type RetryConfig struct {
	InitialBackoffSeconds int     `koanf:"initial_backoff_seconds" mapstructure:"initial_backoff_seconds"`
	MaxBackoffSeconds     int     `koanf:"max_backoff_seconds" mapstructure:"max_backoff_seconds"`
	MaxAttempts           int     `koanf:"max_attempts" mapstructure:"max_attempts"`
	JitterFraction        float64 `koanf:"jitter_fraction" mapstructure:"jitter_fraction"`
}

func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

type DispatchConfig struct {
	// TargetURL is the delivery endpoint. When empty, TargetURLSecret names
	// the secret-source entry holding the endpoint.
	TargetURL       string `koanf:"target_url" mapstructure:"target_url"`
	TargetURLSecret string `koanf:"target_url_secret" mapstructure:"target_url_secret"`
	// SigningSecret names the secret-source entry used to sign outbound
	// bodies. Empty disables outbound signing.
	SigningSecret         string `koanf:"signing_secret" mapstructure:"signing_secret"`
	BatchSize             int    `koanf:"batch_size" mapstructure:"batch_size"`
	Workers               int    `koanf:"workers" mapstructure:"workers"`
	AttemptTimeoutSeconds int    `koanf:"attempt_timeout_seconds" mapstructure:"attempt_timeout_seconds"`
	// StaleClaimSeconds is the in_flight abandonment cutoff. Zero derives
	// 2x the attempt timeout.
	StaleClaimSeconds int `koanf:"stale_claim_seconds" mapstructure:"stale_claim_seconds"`
	IntervalSeconds   int `koanf:"interval_seconds" mapstructure:"interval_seconds"`
}

func (c DispatchConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

func (c DispatchConfig) StaleClaimAfter() time.Duration {
	if c.StaleClaimSeconds > 0 {
		return time.Duration(c.StaleClaimSeconds) * time.Second
	}
	return 2 * c.AttemptTimeout()
}

func (c DispatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type ReceiverConfig struct {
	// Secret is the shared HMAC secret. When empty, SecretName is consulted
	// against the secret source; when both are empty signature verification
	// is disabled, which the receiver logs as an explicit opt-out.
	Secret          string `koanf:"secret" mapstructure:"secret"`
	SecretName      string `koanf:"secret_name" mapstructure:"secret_name"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
}

type InboxConfig struct {
	MaxPollLimit int  `koanf:"max_poll_limit" mapstructure:"max_poll_limit"`
	NewestFirst  bool `koanf:"newest_first" mapstructure:"newest_first"`
}

type RetentionConfig struct {
	Days       int `koanf:"days" mapstructure:"days"`
	PurgeLimit int `koanf:"purge_limit" mapstructure:"purge_limit"`
	// PurgeIntervalSeconds gates how often the runner prunes expired rows.
	PurgeIntervalSeconds int `koanf:"purge_interval_seconds" mapstructure:"purge_interval_seconds"`
}

func (c RetentionConfig) TTL() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

func (c RetentionConfig) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// ConsumeMode selects push (dispatcher) or pull (inbox acknowledge) per
	// deployment. The two paths compete for the same pending -> terminal
	// transition, so they are mutually exclusive.
	ConsumeMode     string          `koanf:"consume_mode" mapstructure:"consume_mode"`
	MaxPayloadBytes int             `koanf:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	Retry           RetryConfig     `koanf:"retry" mapstructure:"retry"`
	Dispatch        DispatchConfig  `koanf:"dispatch" mapstructure:"dispatch"`
	Receiver        ReceiverConfig  `koanf:"receiver" mapstructure:"receiver"`
	Inbox           InboxConfig     `koanf:"inbox" mapstructure:"inbox"`
	Retention       RetentionConfig `koanf:"retention" mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "relay",
		ConsumeMode:     string(ConsumeModePush),
		MaxPayloadBytes: 350 * 1024,
		Retry: RetryConfig{
			InitialBackoffSeconds: 1,
			MaxBackoffSeconds:     60,
			MaxAttempts:           3,
			JitterFraction:        0.2,
		},
		Dispatch: DispatchConfig{
			BatchSize:             100,
			Workers:               4,
			AttemptTimeoutSeconds: 10,
			IntervalSeconds:       60,
		},
		Receiver: ReceiverConfig{
			SignatureHeader: "X-Webhook-Signature",
		},
		Inbox: InboxConfig{
			MaxPollLimit: 100,
			NewestFirst:  true,
		},
		Retention: RetentionConfig{
			Days:                 90,
			PurgeLimit:           500,
			PurgeIntervalSeconds: 3600,
		},
	}
}

func (c Config) Mode() ConsumeMode {
	mode := ConsumeMode(strings.TrimSpace(strings.ToLower(c.ConsumeMode)))
	if mode == ConsumeModePull {
		return ConsumeModePull
	}
	return ConsumeModePush
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	mode := strings.TrimSpace(strings.ToLower(c.ConsumeMode))
	if mode != string(ConsumeModePush) && mode != string(ConsumeModePull) {
		return fmt.Errorf("core: consume_mode must be %q or %q", ConsumeModePush, ConsumeModePull)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("core: max_payload_bytes must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialBackoffSeconds < 0 || c.Retry.MaxBackoffSeconds < 0 {
		return fmt.Errorf("core: retry backoff seconds must not be negative")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("core: retry.jitter_fraction must be in [0, 1)")
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("core: dispatch.batch_size must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("core: dispatch.workers must be positive")
	}
	if c.Dispatch.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("core: dispatch.attempt_timeout_seconds must be positive")
	}
	if c.Inbox.MaxPollLimit <= 0 || c.Inbox.MaxPollLimit > 100 {
		return fmt.Errorf("core: inbox.max_poll_limit must be in (0, 100]")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("core: retention.days must be positive")
	}
	return nil
}
