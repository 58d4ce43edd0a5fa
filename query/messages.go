package query

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeGetEvent  = "relay.query.event.get"
	TypePollInbox = "relay.query.inbox.poll"
)

type GetEventMessage struct {
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewValidationError("query: event id is required", nil)
	}
	return nil
}

// PollInboxMessage lists pending events for pull consumers. Limit and
// Order fall back to the engine's inbox defaults when zero.
type PollInboxMessage struct {
	Input core.PollInput
}

func (PollInboxMessage) Type() string { return TypePollInbox }

func (m PollInboxMessage) Validate() error {
	if m.Input.Limit < 0 {
		return core.NewValidationError(
			"query: poll limit must be >= 0",
			map[string]any{"limit": m.Input.Limit},
		)
	}
	switch strings.ToLower(strings.TrimSpace(m.Input.Order)) {
	case "", core.PollOrderNewest, core.PollOrderOldest:
		return nil
	default:
		return core.NewValidationError(
			"query: order must be newest or oldest",
			map[string]any{"order": m.Input.Order},
		)
	}
}
