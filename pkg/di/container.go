// Package di wires the tenant cache stack: store, facade, audit sink,
// migration proxy, and database, built once from the startup configuration.
package di

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-tenant-cache/audit"
	"github.com/goliatone/go-tenant-cache/cache"
	"github.com/goliatone/go-tenant-cache/config"
	"github.com/goliatone/go-tenant-cache/internal/cacheinfra"
	"github.com/goliatone/go-tenant-cache/migration"
	"github.com/goliatone/go-tenant-cache/pkg/logger"
	"github.com/goliatone/go-tenant-cache/repository"
)

// Container manages singleton instances of the shared components and
// provides factory functions for building tenant-scoped repositories on top
// of them.
type Container struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *cacheinfra.SturdycStore
	facade *cache.Facade
	audit  audit.Recorder
	proxy  *migration.Proxy
	db     *bun.DB
}

// NewContainer builds the full stack from a validated configuration.
func NewContainer(cfg *config.Config) (*Container, error) {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := cacheinfra.NewSturdycStore(cfg.Store.ToStore())
	if err != nil {
		return nil, err
	}

	facade, err := cache.NewFacade(store, cfg.Cache.ToCache(), log)
	if err != nil {
		store.Close()
		return nil, err
	}

	proxy := migration.NewProxy(log)
	for _, m := range cfg.Migrations {
		if err := proxy.Configure(m); err != nil {
			store.Close()
			return nil, err
		}
	}

	db, err := newDB(cfg.Database)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Container{
		cfg:    cfg,
		log:    log,
		store:  store,
		facade: facade,
		audit:  audit.NewLogRecorder(logger.Named(log, "audit")),
		proxy:  proxy,
		db:     db,
	}, nil
}

// NewContainerWithDefaults builds a container from defaults and environment
// overrides alone, without a configuration file.
func NewContainerWithDefaults() (*Container, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewContainer(cfg)
}

// DB returns the shared database handle.
func (c *Container) DB() *bun.DB { return c.db }

// Facade returns the shared cache facade.
func (c *Container) Facade() *cache.Facade { return c.facade }

// Audit returns the shared audit sink.
func (c *Container) Audit() audit.Recorder { return c.audit }

// Proxy returns the migration switchboard.
func (c *Container) Proxy() *migration.Proxy { return c.proxy }

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger { return c.log }

// Config returns the configuration the container was built from.
func (c *Container) Config() *config.Config { return c.cfg }

// Close releases the container's resources. Pending background cache writes
// are drained first so none land on a closed store.
func (c *Container) Close() error {
	c.facade.Flush()
	c.store.Close()
	err := c.db.Close()
	_ = c.log.Sync()
	return err
}

func newDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("di: open sqlite: %w", err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("di: open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("di: unsupported database driver %q", cfg.Driver)
	}
}

// NewRepository builds a tenant-scoped repository for one model on the
// container's shared components.
//
// Since Go methods cannot have type parameters, this is a package-level
// function: NewRepository[*Contact](container, handlers, opts).
func NewRepository[T any](c *Container, handlers repository.ModelHandlers[T], opts repository.Options) (*repository.BunRepository[T], error) {
	return repository.NewBunRepository(c.db, handlers, c.facade, c.audit, opts, c.log)
}

// NewMigratedRepository pairs a migrated repository with its legacy
// counterpart behind the container's migration proxy.
func NewMigratedRepository[T any](c *Container, domain string, migrated, legacy repository.Repository[T]) *migration.DispatchRepository[T] {
	return migration.NewDispatchRepository(c.proxy, domain, migrated, legacy)
}
