package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

// MutatingService is the write surface the command handlers wrap. The relay
// engine satisfies it.
type MutatingService interface {
	Publish(ctx context.Context, input core.PublishInput) (core.Event, error)
	Receive(ctx context.Context, input core.ReceiveInput) (core.Receipt, error)
	Acknowledge(ctx context.Context, id string) (core.Event, error)
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type PublishCommand struct {
	service MutatingService
}

func NewPublishCommand(service MutatingService) *PublishCommand {
	return &PublishCommand{service: service}
}

func (c *PublishCommand) Execute(ctx context.Context, msg PublishMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: publish service is required")
	}
	out, err := c.service.Publish(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReceiveCommand struct {
	service MutatingService
}

func NewReceiveCommand(service MutatingService) *ReceiveCommand {
	return &ReceiveCommand{service: service}
}

func (c *ReceiveCommand) Execute(ctx context.Context, msg ReceiveMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: receive service is required")
	}
	out, err := c.service.Receive(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AcknowledgeCommand struct {
	service MutatingService
}

func NewAcknowledgeCommand(service MutatingService) *AcknowledgeCommand {
	return &AcknowledgeCommand{service: service}
}

func (c *AcknowledgeCommand) Execute(ctx context.Context, msg AcknowledgeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: acknowledge service is required")
	}
	out, err := c.service.Acknowledge(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchPendingCommand struct {
	service MutatingService
}

func NewDispatchPendingCommand(service MutatingService) *DispatchPendingCommand {
	return &DispatchPendingCommand{service: service}
}

func (c *DispatchPendingCommand) Execute(ctx context.Context, msg DispatchPendingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.DispatchPending(ctx, msg.BatchSize)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeExpiredCommand struct {
	service MutatingService
}

func NewPurgeExpiredCommand(service MutatingService) *PurgeExpiredCommand {
	return &PurgeExpiredCommand{service: service}
}

func (c *PurgeExpiredCommand) Execute(ctx context.Context, msg PurgeExpiredMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: purge service is required")
	}
	out, err := c.service.PurgeExpired(ctx, msg.Before, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
