package core

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrStoreNotConfigured  = errors.New("core: event store is not configured")
	ErrSenderNotConfigured = errors.New("core: delivery sender is not configured")
)

// Engine coordinates the buffered event lifecycle: ingest into the store,
// claim-based dispatch toward the delivery target, and the pull inbox. All
// state lives in the EventStore; the engine itself is safe for concurrent
// use and holds no per-event state.
type Engine struct {
	config            Config
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
	dispatcher        *Dispatcher
	now               func() time.Time
}

type EngineDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	EventStore        EventStore
	RetryPolicy       RetryPolicy
	DeliverySender    DeliverySender
	SecretSource      SecretSource
}

func NewEngine(cfg Config, options ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("relay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("relay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.store == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.store = storeProvider.EventStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.store = storeProvider.EventStore()
		}
	}
	if builder.store == nil {
		memory := NewInMemoryEventStore()
		memory.Now = builder.now
		builder.store = memory
	}
	if builder.retryPolicy == nil {
		builder.retryPolicy = NewExponentialBackoffPolicy(finalConfig.Retry)
	}

	engine := &Engine{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		store:             builder.store,
		retryPolicy:       builder.retryPolicy,
		sender:            builder.sender,
		secretSource:      builder.secretSource,
		now:               builder.now,
	}

	if builder.sender != nil {
		dispatcher, dispatchErr := NewDispatcher(DispatcherOptions{
			Store:   builder.store,
			Sender:  builder.sender,
			Policy:  builder.retryPolicy,
			Config:  finalConfig.Dispatch,
			Logger:  logger,
			Metrics: builder.metricsRecorder,
			Now:     builder.now,
		})
		if dispatchErr != nil {
			return nil, mapBuildError(builder.errorMapper, dispatchErr)
		}
		engine.dispatcher = dispatcher
	}

	return engine, nil
}

func Setup(cfg Config, options ...Option) (*Engine, error) {
	return NewEngine(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

// Mode reports the resolved consume mode. Push keeps the dispatcher as the
// only terminal writer; pull hands that role to inbox acknowledgers.
func (e *Engine) Mode() ConsumeMode {
	if e == nil {
		return ConsumeModePush
	}
	return e.config.Mode()
}

func (e *Engine) Dependencies() EngineDependencies {
	if e == nil {
		return EngineDependencies{}
	}
	return EngineDependencies{
		Logger:            e.logger,
		LoggerProvider:    e.loggerProvider,
		MetricsRecorder:   e.metricsRecorder,
		ErrorFactory:      e.errorFactory,
		ErrorMapper:       e.errorMapper,
		PersistenceClient: e.persistenceClient,
		RepositoryFactory: e.repositoryFactory,
		ConfigProvider:    e.configProvider,
		OptionsResolver:   e.optionsResolver,
		EventStore:        e.store,
		RetryPolicy:       e.retryPolicy,
		DeliverySender:    e.sender,
		SecretSource:      e.secretSource,
	}
}

// Store exposes the backing event store for transports that page through
// events directly.
func (e *Engine) Store() EventStore {
	if e == nil {
		return nil
	}
	return e.store
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}
