package relay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
)

// CommandQueryService is the surface the facade wraps. *core.Engine
// satisfies it; callers may substitute any equivalent implementation.
type CommandQueryService interface {
	relaycommand.MutatingService
	relayquery.EventReader
}

type Commands struct {
	Publish         *relaycommand.PublishCommand
	Receive         *relaycommand.ReceiveCommand
	Acknowledge     *relaycommand.AcknowledgeCommand
	DispatchPending *relaycommand.DispatchPendingCommand
	PurgeExpired    *relaycommand.PurgeExpiredCommand
}

type Queries struct {
	GetEvent  *relayquery.GetEventQuery
	PollInbox *relayquery.PollInboxQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Publish:         relaycommand.NewPublishCommand(service),
		Receive:         relaycommand.NewReceiveCommand(service),
		Acknowledge:     relaycommand.NewAcknowledgeCommand(service),
		DispatchPending: relaycommand.NewDispatchPendingCommand(service),
		PurgeExpired:    relaycommand.NewPurgeExpiredCommand(service),
	}
	facade.queries = Queries{
		GetEvent:  relayquery.NewGetEventQuery(service),
		PollInbox: relayquery.NewPollInboxQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
