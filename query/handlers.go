package query

import (
	"context"

	"github.com/goliatone/go-relay/core"
)

// EventReader is the read surface the query handlers wrap. The relay engine
// satisfies it.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (core.Event, error)
	Poll(ctx context.Context, input core.PollInput) ([]core.Event, error)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.Event, error) {
	if q == nil || q.reader == nil {
		return core.Event{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.GetEvent(ctx, msg.EventID)
}

type PollInboxQuery struct {
	reader EventReader
}

func NewPollInboxQuery(reader EventReader) *PollInboxQuery {
	return &PollInboxQuery{reader: reader}
}

func (q *PollInboxQuery) Query(ctx context.Context, msg PollInboxMessage) ([]core.Event, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event reader is required")
	}
	return q.reader.Poll(ctx, msg.Input)
}
