package migration

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenant-cache/repository"
	"github.com/goliatone/go-tenant-cache/tenant"
)

// Operation names used for per-operation migration routing.
const (
	OpFindByClinic       = "findByClinic"
	OpFindByID           = "findById"
	OpFindWithPagination = "findWithPagination"
	OpCount              = "count"
	OpCreate             = "create"
	OpUpdate             = "update"
	OpDelete             = "delete"
	OpBulkCreate         = "bulkCreate"
	OpBulkUpdate         = "bulkUpdate"
	OpTransaction        = "transaction"
)

// Call routes one operation through the proxy: the migrated fn when the
// domain and operation are enabled, the legacy fn otherwise. Migrated calls
// are timed and reported to the proxy; legacy calls are not observed.
func Call[R any](ctx context.Context, p *Proxy, domain, operation string, migrated, legacy func(ctx context.Context) (R, error)) (R, error) {
	if !p.Enabled(domain, operation) {
		return legacy(ctx)
	}

	start := time.Now()
	result, err := migrated(ctx)
	p.Observe(domain, operation, time.Since(start), err)
	return result, err
}

var _ repository.Repository[*struct{}] = (*DispatchRepository[*struct{}])(nil)

// DispatchRepository pairs a migrated repository with its legacy counterpart
// behind the shared Repository contract. Every call consults the proxy, so a
// rollback takes effect on the very next operation.
type DispatchRepository[T any] struct {
	proxy    *Proxy
	domain   string
	migrated repository.Repository[T]
	legacy   repository.Repository[T]
}

// NewDispatchRepository wires the pair. Until the proxy has a configuration
// for domain, every call goes to legacy.
func NewDispatchRepository[T any](p *Proxy, domain string, migrated, legacy repository.Repository[T]) *DispatchRepository[T] {
	return &DispatchRepository[T]{proxy: p, domain: domain, migrated: migrated, legacy: legacy}
}

func (d *DispatchRepository[T]) FindByClinic(ctx context.Context, tc tenant.Context, filters ...repository.Filter) ([]T, error) {
	return Call(ctx, d.proxy, d.domain, OpFindByClinic,
		func(ctx context.Context) ([]T, error) { return d.migrated.FindByClinic(ctx, tc, filters...) },
		func(ctx context.Context) ([]T, error) { return d.legacy.FindByClinic(ctx, tc, filters...) })
}

func (d *DispatchRepository[T]) FindByID(ctx context.Context, tc tenant.Context, id int64) (T, bool, error) {
	type lookup struct {
		record T
		found  bool
	}
	result, err := Call(ctx, d.proxy, d.domain, OpFindByID,
		func(ctx context.Context) (lookup, error) {
			record, found, err := d.migrated.FindByID(ctx, tc, id)
			return lookup{record, found}, err
		},
		func(ctx context.Context) (lookup, error) {
			record, found, err := d.legacy.FindByID(ctx, tc, id)
			return lookup{record, found}, err
		})
	return result.record, result.found, err
}

func (d *DispatchRepository[T]) FindWithPagination(ctx context.Context, tc tenant.Context, opts repository.PageOptions, filters ...repository.Filter) (repository.Page[T], error) {
	return Call(ctx, d.proxy, d.domain, OpFindWithPagination,
		func(ctx context.Context) (repository.Page[T], error) {
			return d.migrated.FindWithPagination(ctx, tc, opts, filters...)
		},
		func(ctx context.Context) (repository.Page[T], error) {
			return d.legacy.FindWithPagination(ctx, tc, opts, filters...)
		})
}

func (d *DispatchRepository[T]) Count(ctx context.Context, tc tenant.Context, filters ...repository.Filter) (int, error) {
	return Call(ctx, d.proxy, d.domain, OpCount,
		func(ctx context.Context) (int, error) { return d.migrated.Count(ctx, tc, filters...) },
		func(ctx context.Context) (int, error) { return d.legacy.Count(ctx, tc, filters...) })
}

func (d *DispatchRepository[T]) Create(ctx context.Context, tc tenant.Context, record T) (T, error) {
	return Call(ctx, d.proxy, d.domain, OpCreate,
		func(ctx context.Context) (T, error) { return d.migrated.Create(ctx, tc, record) },
		func(ctx context.Context) (T, error) { return d.legacy.Create(ctx, tc, record) })
}

func (d *DispatchRepository[T]) Update(ctx context.Context, tc tenant.Context, id int64, changes map[string]any) (T, error) {
	return Call(ctx, d.proxy, d.domain, OpUpdate,
		func(ctx context.Context) (T, error) { return d.migrated.Update(ctx, tc, id, changes) },
		func(ctx context.Context) (T, error) { return d.legacy.Update(ctx, tc, id, changes) })
}

func (d *DispatchRepository[T]) Delete(ctx context.Context, tc tenant.Context, id int64) (bool, error) {
	return Call(ctx, d.proxy, d.domain, OpDelete,
		func(ctx context.Context) (bool, error) { return d.migrated.Delete(ctx, tc, id) },
		func(ctx context.Context) (bool, error) { return d.legacy.Delete(ctx, tc, id) })
}

func (d *DispatchRepository[T]) BulkCreate(ctx context.Context, tc tenant.Context, records []T) ([]T, error) {
	return Call(ctx, d.proxy, d.domain, OpBulkCreate,
		func(ctx context.Context) ([]T, error) { return d.migrated.BulkCreate(ctx, tc, records) },
		func(ctx context.Context) ([]T, error) { return d.legacy.BulkCreate(ctx, tc, records) })
}

func (d *DispatchRepository[T]) BulkUpdate(ctx context.Context, tc tenant.Context, updates []repository.BulkUpdateItem) ([]T, error) {
	return Call(ctx, d.proxy, d.domain, OpBulkUpdate,
		func(ctx context.Context) ([]T, error) { return d.migrated.BulkUpdate(ctx, tc, updates) },
		func(ctx context.Context) ([]T, error) { return d.legacy.BulkUpdate(ctx, tc, updates) })
}

func (d *DispatchRepository[T]) Transaction(ctx context.Context, tc tenant.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	_, err := Call(ctx, d.proxy, d.domain, OpTransaction,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, d.migrated.Transaction(ctx, tc, fn) },
		func(ctx context.Context) (struct{}, error) { return struct{}{}, d.legacy.Transaction(ctx, tc, fn) })
	return err
}
