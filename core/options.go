package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

// ConfigProvider loads the effective configuration, fully resolved against
// defaults. Zero values in the returned Config are explicit settings, not
// absent fields.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type engineBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	store             EventStore
	retryPolicy       RetryPolicy
	sender            DeliverySender
	secretSource      SecretSource
	now               func() time.Time
}

type Option func(*engineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *engineBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *engineBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *engineBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *engineBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

func WithEventStore(store EventStore) Option {
	return func(b *engineBuilder) {
		b.store = store
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *engineBuilder) {
		b.retryPolicy = policy
	}
}

func WithDeliverySender(sender DeliverySender) Option {
	return func(b *engineBuilder) {
		b.sender = sender
	}
}

func WithSecretSource(source SecretSource) Option {
	return func(b *engineBuilder) {
		b.secretSource = source
	}
}

// WithClock injects the engine clock; tests use it to step through backoff
// windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *engineBuilder) {
		b.now = now
	}
}

func defaultEngineBuilder(runtime Config) engineBuilder {
	loggerProvider, logger := glog.Resolve("relay", nil, nil)
	return engineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return relayErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	// loaded is materialized against defaults, so its zero values are
	// explicit. runtime is a sparse struct where zero means unset.
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, true)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.ConsumeMode) != "" {
		layer["consume_mode"] = cfg.ConsumeMode
	}
	if includeZero || cfg.MaxPayloadBytes > 0 {
		layer["max_payload_bytes"] = cfg.MaxPayloadBytes
	}

	retry := map[string]any{}
	if includeZero || cfg.Retry.InitialBackoffSeconds > 0 {
		retry["initial_backoff_seconds"] = cfg.Retry.InitialBackoffSeconds
	}
	if includeZero || cfg.Retry.MaxBackoffSeconds > 0 {
		retry["max_backoff_seconds"] = cfg.Retry.MaxBackoffSeconds
	}
	if includeZero || cfg.Retry.MaxAttempts > 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	if includeZero || cfg.Retry.JitterFraction > 0 {
		retry["jitter_fraction"] = cfg.Retry.JitterFraction
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	dispatch := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Dispatch.TargetURL) != "" {
		dispatch["target_url"] = cfg.Dispatch.TargetURL
	}
	if includeZero || strings.TrimSpace(cfg.Dispatch.TargetURLSecret) != "" {
		dispatch["target_url_secret"] = cfg.Dispatch.TargetURLSecret
	}
	if includeZero || strings.TrimSpace(cfg.Dispatch.SigningSecret) != "" {
		dispatch["signing_secret"] = cfg.Dispatch.SigningSecret
	}
	if includeZero || cfg.Dispatch.BatchSize > 0 {
		dispatch["batch_size"] = cfg.Dispatch.BatchSize
	}
	if includeZero || cfg.Dispatch.Workers > 0 {
		dispatch["workers"] = cfg.Dispatch.Workers
	}
	if includeZero || cfg.Dispatch.AttemptTimeoutSeconds > 0 {
		dispatch["attempt_timeout_seconds"] = cfg.Dispatch.AttemptTimeoutSeconds
	}
	if includeZero || cfg.Dispatch.StaleClaimSeconds > 0 {
		dispatch["stale_claim_seconds"] = cfg.Dispatch.StaleClaimSeconds
	}
	if includeZero || cfg.Dispatch.IntervalSeconds > 0 {
		dispatch["interval_seconds"] = cfg.Dispatch.IntervalSeconds
	}
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	receiver := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Receiver.Secret) != "" {
		receiver["secret"] = cfg.Receiver.Secret
	}
	if includeZero || strings.TrimSpace(cfg.Receiver.SecretName) != "" {
		receiver["secret_name"] = cfg.Receiver.SecretName
	}
	if includeZero || strings.TrimSpace(cfg.Receiver.SignatureHeader) != "" {
		receiver["signature_header"] = cfg.Receiver.SignatureHeader
	}
	if len(receiver) > 0 {
		layer["receiver"] = receiver
	}

	inbox := map[string]any{}
	if includeZero || cfg.Inbox.MaxPollLimit > 0 {
		inbox["max_poll_limit"] = cfg.Inbox.MaxPollLimit
	}
	if includeZero || cfg.Inbox.NewestFirst {
		inbox["newest_first"] = cfg.Inbox.NewestFirst
	}
	if len(inbox) > 0 {
		layer["inbox"] = inbox
	}

	retention := map[string]any{}
	if includeZero || cfg.Retention.Days > 0 {
		retention["days"] = cfg.Retention.Days
	}
	if includeZero || cfg.Retention.PurgeLimit > 0 {
		retention["purge_limit"] = cfg.Retention.PurgeLimit
	}
	if includeZero || cfg.Retention.PurgeIntervalSeconds > 0 {
		retention["purge_interval_seconds"] = cfg.Retention.PurgeIntervalSeconds
	}
	if len(retention) > 0 {
		layer["retention"] = retention
	}

	return layer
}
