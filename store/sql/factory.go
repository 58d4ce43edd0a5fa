package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-relay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// RepositoryFactory builds the bun-backed event store from a persistence
// client or a raw bun handle. With a cache service configured, event lookups
// go through the read-through cache wrapper.
type RepositoryFactory struct {
	db *bun.DB

	storeOptions []EventStoreOption
	cacheService repositorycache.CacheService

	eventStore *EventStore
	cached     *CachedEventStore
}

type FactoryOption func(*RepositoryFactory)

// WithEventStoreOptions forwards options (retention, clock) to the event
// store the factory builds.
func WithEventStoreOptions(opts ...EventStoreOption) FactoryOption {
	return func(f *RepositoryFactory) {
		f.storeOptions = append(f.storeOptions, opts...)
	}
}

// WithCacheService wraps the built event store in the read-through cache.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.eventStore != nil {
		return f, nil
	}

	eventStore, err := NewEventStore(f.db, f.storeOptions...)
	if err != nil {
		return nil, err
	}
	f.eventStore = eventStore

	if f.cacheService != nil {
		cached, err := NewCachedEventStore(eventStore, f.cacheService)
		if err != nil {
			return nil, err
		}
		f.cached = cached
	}
	return f, nil
}

func (f *RepositoryFactory) EventStore() core.EventStore {
	if f == nil {
		return nil
	}
	if f.cached != nil {
		return f.cached
	}
	if f.eventStore == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// ResolveDialect maps a database/sql driver name onto the bun dialect the
// relay migration trees are written against.
func ResolveDialect(driver string) (schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return pgdialect.New(), nil
	case "sqlite", "sqlite3":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// OpenDB opens the driver's database handle and wraps it in a bun.DB with
// the matching dialect. The caller owns driver registration (blank import)
// and the handle's lifetime.
func OpenDB(driver, dsn string) (*bun.DB, error) {
	dialect, err := ResolveDialect(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	return bun.NewDB(sqlDB, dialect), nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
