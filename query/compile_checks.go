package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

var (
	_ gocmd.Querier[GetEventMessage, core.Event]    = (*GetEventQuery)(nil)
	_ gocmd.Querier[PollInboxMessage, []core.Event] = (*PollInboxQuery)(nil)

	_ EventReader = (core.RelayService)(nil)
)
