package sqlstore

import "github.com/goliatone/go-relay/core"

var (
	_ core.EventStore             = (*EventStore)(nil)
	_ core.RetentionPruner        = (*EventStore)(nil)
	_ core.EventStore             = (*CachedEventStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
