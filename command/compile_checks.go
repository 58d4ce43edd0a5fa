package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

var (
	_ gocmd.Commander[PublishMessage]         = (*PublishCommand)(nil)
	_ gocmd.Commander[ReceiveMessage]         = (*ReceiveCommand)(nil)
	_ gocmd.Commander[AcknowledgeMessage]     = (*AcknowledgeCommand)(nil)
	_ gocmd.Commander[DispatchPendingMessage] = (*DispatchPendingCommand)(nil)
	_ gocmd.Commander[PurgeExpiredMessage]    = (*PurgeExpiredCommand)(nil)

	_ MutatingService = (core.RelayService)(nil)
)
