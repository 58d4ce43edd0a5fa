package relay

import "github.com/goliatone/go-relay/core"

type Config = core.Config

type RetryConfig = core.RetryConfig
type DispatchConfig = core.DispatchConfig
type ReceiverConfig = core.ReceiverConfig
type InboxConfig = core.InboxConfig
type RetentionConfig = core.RetentionConfig

type Option = core.Option

type Engine = core.Engine

type EngineDependencies = core.EngineDependencies
type EventStore = core.EventStore
type DeliverySender = core.DeliverySender
type SecretSource = core.SecretSource
type RetryPolicy = core.RetryPolicy

type Event = core.Event
type EventStatus = core.EventStatus
type Receipt = core.Receipt
type DeliveryResult = core.DeliveryResult
type DispatchStats = core.DispatchStats

type PublishInput = core.PublishInput
type ReceiveInput = core.ReceiveInput
type PollInput = core.PollInput

const (
	EventStatusPending   = core.EventStatusPending
	EventStatusInFlight  = core.EventStatusInFlight
	EventStatusDelivered = core.EventStatusDelivered
	EventStatusFailed    = core.EventStatusFailed
)

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithEventStore        = core.WithEventStore
	WithRetryPolicy       = core.WithRetryPolicy
	WithDeliverySender    = core.WithDeliverySender
	WithSecretSource      = core.WithSecretSource
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	return core.NewEngine(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return core.Setup(cfg, opts...)
}
