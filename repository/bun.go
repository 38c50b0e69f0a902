package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-tenant-cache/audit"
	"github.com/goliatone/go-tenant-cache/cache"
	"github.com/goliatone/go-tenant-cache/pkg/errors"
	"github.com/goliatone/go-tenant-cache/tenant"
)

// Interface assertion so dispatchers can rely on the full contract.
var _ Repository[*struct{}] = (*BunRepository[*struct{}])(nil)

// Options carries the per-repository settings that are not derivable from
// the model itself.
type Options struct {
	// Domain is the cache domain the repository reads and invalidates
	// under. Must be registered in the facade's configuration.
	Domain string

	// IDColumn and ClinicColumn name the id and tenant columns.
	// Default "id" and "clinic_id".
	IDColumn     string
	ClinicColumn string

	// DeletedAtColumn enables soft deletes when set: Delete stamps the
	// column instead of removing the row, and every read filters stamped
	// rows out.
	DeletedAtColumn string
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.ClinicColumn == "" {
		o.ClinicColumn = "clinic_id"
	}
	return o
}

// idLookup is the cacheable envelope for FindByID: not-found is a valid,
// cacheable outcome, not an error.
type idLookup[T any] struct {
	Record T    `msgpack:"record"`
	Found  bool `msgpack:"found"`
}

// BunRepository is the bun-backed implementation of Repository. T must be a
// pointer to a bun model struct.
type BunRepository[T any] struct {
	db       *bun.DB
	handlers ModelHandlers[T]
	opts     Options
	cache    *cache.Facade
	keys     cache.KeySerializer
	audit    audit.Recorder
	guard    tenant.Guard
	log      *zap.Logger
}

// NewBunRepository wires a repository over db for the model described by
// handlers. Reads go through facade; every mutation is reported to auditRec.
func NewBunRepository[T any](db *bun.DB, handlers ModelHandlers[T], facade *cache.Facade, auditRec audit.Recorder, opts Options, log *zap.Logger) (*BunRepository[T], error) {
	if err := handlers.validate(); err != nil {
		return nil, err
	}
	if opts.Domain == "" {
		return nil, fmt.Errorf("repository: Options.Domain is required")
	}
	if facade == nil {
		return nil, fmt.Errorf("repository: cache facade is required")
	}
	if !facade.HasDomain(opts.Domain) {
		return nil, fmt.Errorf("repository: cache domain %q is not registered", opts.Domain)
	}
	if auditRec == nil {
		auditRec = audit.Nop()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &BunRepository[T]{
		db:       db,
		handlers: handlers,
		opts:     opts.withDefaults(),
		cache:    facade,
		keys:     cache.NewDefaultKeySerializer(),
		audit:    auditRec,
		guard:    tenant.NewGuard(handlers.EntityType, tenant.ValidationOptions{RequireClinicID: true}, log),
		log:      log.Named("repository"),
	}, nil
}

// FindByClinic lists every record owned by the clinic, cache-aside with the
// domain's list TTL.
func (r *BunRepository[T]) FindByClinic(ctx context.Context, tc tenant.Context, filters ...Filter) ([]T, error) {
	if err := r.guard.Check("findByClinic", tc); err != nil {
		return nil, err
	}

	identifier := r.keys.SerializeKey("list", filtersKeyArgs(filters)...)
	return cache.CacheAside(ctx, r.cache, r.opts.Domain, identifier, tc.ClinicID, r.cache.ListTTL(r.opts.Domain),
		func(ctx context.Context) ([]T, error) {
			var records []T
			q := r.selectForClinic(r.db, &records, tc.ClinicID)
			q = applyFilters(q, filters)
			if err := q.Scan(ctx); err != nil {
				return nil, err
			}
			return records, nil
		})
}

// FindByID returns the record and whether it exists under the clinic.
// Cross-tenant ids look exactly like missing ids.
func (r *BunRepository[T]) FindByID(ctx context.Context, tc tenant.Context, id int64) (T, bool, error) {
	var zero T
	if err := r.guard.Check("findById", tc); err != nil {
		return zero, false, err
	}
	if id <= 0 {
		return zero, false, errors.NewValidation("id", "must be a positive integer")
	}

	identifier := fmt.Sprintf("id:%d", id)
	lookup, err := cache.CacheAside(ctx, r.cache, r.opts.Domain, identifier, tc.ClinicID, r.cache.EntityTTL(r.opts.Domain),
		func(ctx context.Context) (idLookup[T], error) {
			return r.lookupByID(ctx, r.db, tc.ClinicID, id)
		})
	if err != nil {
		return zero, false, err
	}
	return lookup.Record, lookup.Found, nil
}

// FindWithPagination returns one page of results plus the pagination
// envelope. The limit arrives pre-clamped by the boundary.
func (r *BunRepository[T]) FindWithPagination(ctx context.Context, tc tenant.Context, opts PageOptions, filters ...Filter) (Page[T], error) {
	var zero Page[T]
	if err := r.guard.Check("findWithPagination", tc); err != nil {
		return zero, err
	}
	if opts.Limit <= 0 {
		return zero, errors.NewValidation("limit", "must be a positive integer")
	}
	if opts.Page < 1 {
		opts.Page = 1
	}

	identifier := r.keys.SerializeKey("page", opts, filtersKeyArgs(filters))
	return cache.CacheAside(ctx, r.cache, r.opts.Domain, identifier, tc.ClinicID, r.cache.ListTTL(r.opts.Domain),
		func(ctx context.Context) (Page[T], error) {
			var records []T
			q := r.selectForClinic(r.db, &records, tc.ClinicID)
			q = applyFilters(q, filters)
			q = applyOrder(q, opts)
			q = q.Limit(opts.Limit).Offset((opts.Page - 1) * opts.Limit)

			total, err := q.ScanAndCount(ctx)
			if err != nil {
				return Page[T]{}, err
			}
			return Page[T]{Data: records, Pagination: newPageInfo(total, opts.Page, opts.Limit)}, nil
		})
}

// Count returns the number of matching rows. Always live, never cached.
func (r *BunRepository[T]) Count(ctx context.Context, tc tenant.Context, filters ...Filter) (int, error) {
	if err := r.guard.Check("count", tc); err != nil {
		return 0, err
	}

	q := r.selectForClinic(r.db, r.handlers.NewRecord(), tc.ClinicID)
	q = applyFilters(q, filters)
	return q.Count(ctx)
}

// Create persists record under the caller's clinic. The owning clinic field
// is forced from the tenant scope regardless of what the payload carried.
func (r *BunRepository[T]) Create(ctx context.Context, tc tenant.Context, record T) (T, error) {
	var zero T
	if err := r.guard.Check("create", tc); err != nil {
		return zero, err
	}

	r.handlers.SetClinicID(record, tc.ClinicID)

	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return zero, err
	}

	r.cache.InvalidatePattern(ctx, r.opts.Domain, tc.ClinicID)
	r.audit.Record(ctx, audit.Record{
		Operation:  audit.OperationCreate,
		EntityType: r.handlers.EntityType,
		EntityID:   fmt.Sprintf("%d", r.handlers.GetID(record)),
		ClinicID:   tc.ClinicID,
		UserID:     tc.UserID,
		Changes:    map[string]any{"created": record},
	})
	return record, nil
}

// Update applies changes to the entity after re-reading it to confirm both
// existence and clinic ownership. Id and clinic fields are stripped from the
// payload before applying; a cross-tenant id fails with the same
// NotFoundError as a missing one.
func (r *BunRepository[T]) Update(ctx context.Context, tc tenant.Context, id int64, changes map[string]any) (T, error) {
	var zero T
	if err := r.guard.Check("update", tc); err != nil {
		return zero, err
	}

	previous, found, err := r.FindByID(ctx, tc, id)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, errors.NewNotFound(r.handlers.EntityType, id, tc.ClinicID)
	}

	applied := r.stripProtectedFields(changes)
	if len(applied) == 0 {
		return previous, nil
	}

	updated, err := r.applyUpdate(ctx, r.db, tc, id, applied)
	if err != nil {
		return zero, err
	}

	r.invalidateEntity(ctx, tc.ClinicID, id)
	r.audit.Record(ctx, audit.Record{
		Operation:  audit.OperationUpdate,
		EntityType: r.handlers.EntityType,
		EntityID:   fmt.Sprintf("%d", id),
		ClinicID:   tc.ClinicID,
		UserID:     tc.UserID,
		Changes:    map[string]any{"previous": previous, "fields": sortedKeys(applied)},
	})
	return updated, nil
}

// Delete removes the entity after the same existence and ownership check as
// Update. Returns false, not an error, when nothing was deleted.
func (r *BunRepository[T]) Delete(ctx context.Context, tc tenant.Context, id int64) (bool, error) {
	if err := r.guard.Check("delete", tc); err != nil {
		return false, err
	}
	if id <= 0 {
		return false, errors.NewValidation("id", "must be a positive integer")
	}

	existing, found, err := r.FindByID(ctx, tc, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	deleted, err := r.deleteRow(ctx, r.db, tc.ClinicID, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	r.invalidateEntity(ctx, tc.ClinicID, id)
	r.audit.Record(ctx, audit.Record{
		Operation:  audit.OperationDelete,
		EntityType: r.handlers.EntityType,
		EntityID:   fmt.Sprintf("%d", id),
		ClinicID:   tc.ClinicID,
		UserID:     tc.UserID,
		Changes:    map[string]any{"deleted": existing},
	})
	return true, nil
}

// BulkCreate persists all records in one transaction, forcing clinic
// ownership on every one of them.
func (r *BunRepository[T]) BulkCreate(ctx context.Context, tc tenant.Context, records []T) ([]T, error) {
	if err := r.guard.Check("bulkCreate", tc); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	for _, record := range records {
		r.handlers.SetClinicID(record, tc.ClinicID)
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&records).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cache.InvalidatePattern(ctx, r.opts.Domain, tc.ClinicID)
	for _, record := range records {
		r.audit.Record(ctx, audit.Record{
			Operation:  audit.OperationCreate,
			EntityType: r.handlers.EntityType,
			EntityID:   fmt.Sprintf("%d", r.handlers.GetID(record)),
			ClinicID:   tc.ClinicID,
			UserID:     tc.UserID,
			Changes:    map[string]any{"created": record},
		})
	}
	return records, nil
}

// BulkUpdate applies each item as an individual update inside a single
// transaction. Correctness over throughput: one bad item rolls the whole
// batch back. Reads inside the transaction bypass the cache.
func (r *BunRepository[T]) BulkUpdate(ctx context.Context, tc tenant.Context, updates []BulkUpdateItem) ([]T, error) {
	if err := r.guard.Check("bulkUpdate", tc); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, nil
	}

	results := make([]T, 0, len(updates))
	previous := make([]T, 0, len(updates))

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, item := range updates {
			lookup, err := r.lookupByID(ctx, tx, tc.ClinicID, item.ID)
			if err != nil {
				return err
			}
			if !lookup.Found {
				return errors.NewNotFound(r.handlers.EntityType, item.ID, tc.ClinicID)
			}

			applied := r.stripProtectedFields(item.Changes)
			if len(applied) == 0 {
				previous = append(previous, lookup.Record)
				results = append(results, lookup.Record)
				continue
			}

			updated, err := r.applyUpdate(ctx, tx, tc, item.ID, applied)
			if err != nil {
				return err
			}
			previous = append(previous, lookup.Record)
			results = append(results, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.InvalidatePattern(ctx, r.opts.Domain, tc.ClinicID)
	for i, item := range updates {
		r.audit.Record(ctx, audit.Record{
			Operation:  audit.OperationUpdate,
			EntityType: r.handlers.EntityType,
			EntityID:   fmt.Sprintf("%d", item.ID),
			ClinicID:   tc.ClinicID,
			UserID:     tc.UserID,
			Changes:    map[string]any{"previous": previous[i], "fields": sortedKeys(r.stripProtectedFields(item.Changes))},
		})
	}
	return results, nil
}

// Transaction opens a transactional scope and runs fn inside it. Any error
// from fn is wrapped in a ValidationError carrying the clinic id; rollback
// itself is the store's responsibility.
func (r *BunRepository[T]) Transaction(ctx context.Context, tc tenant.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	if err := r.guard.Check("transaction", tc); err != nil {
		return err
	}

	if err := r.db.RunInTx(ctx, nil, fn); err != nil {
		return errors.WrapTransaction(err, tc.ClinicID)
	}
	return nil
}

// --- internals ---

// selectForClinic builds the base select scoped to one clinic, filtering out
// soft-deleted rows when the repository is configured for them.
func (r *BunRepository[T]) selectForClinic(idb bun.IDB, model any, clinicID int64) *bun.SelectQuery {
	q := idb.NewSelect().Model(model).
		Where("? = ?", bun.Ident(r.opts.ClinicColumn), clinicID)
	if r.opts.DeletedAtColumn != "" {
		q = q.Where("? IS NULL", bun.Ident(r.opts.DeletedAtColumn))
	}
	return q
}

func (r *BunRepository[T]) lookupByID(ctx context.Context, idb bun.IDB, clinicID, id int64) (idLookup[T], error) {
	record := r.handlers.NewRecord()
	q := r.selectForClinic(idb, record, clinicID).
		Where("? = ?", bun.Ident(r.opts.IDColumn), id).
		Limit(1)

	if err := q.Scan(ctx); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return idLookup[T]{Found: false}, nil
		}
		return idLookup[T]{}, err
	}
	return idLookup[T]{Record: record, Found: true}, nil
}

// applyUpdate runs the set-based update and re-reads the fresh row. Changes
// keys are applied in sorted order so the generated SQL is deterministic.
func (r *BunRepository[T]) applyUpdate(ctx context.Context, idb bun.IDB, tc tenant.Context, id int64, changes map[string]any) (T, error) {
	var zero T

	q := idb.NewUpdate().Model(r.handlers.NewRecord()).
		Where("? = ?", bun.Ident(r.opts.IDColumn), id).
		Where("? = ?", bun.Ident(r.opts.ClinicColumn), tc.ClinicID)
	for _, key := range sortedKeys(changes) {
		q = q.Set("? = ?", bun.Ident(key), changes[key])
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return zero, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// Row vanished between the ownership check and the update.
		return zero, errors.NewNotFound(r.handlers.EntityType, id, tc.ClinicID)
	}

	lookup, err := r.lookupByID(ctx, idb, tc.ClinicID, id)
	if err != nil {
		return zero, err
	}
	if !lookup.Found {
		return zero, errors.NewNotFound(r.handlers.EntityType, id, tc.ClinicID)
	}
	return lookup.Record, nil
}

func (r *BunRepository[T]) deleteRow(ctx context.Context, idb bun.IDB, clinicID, id int64) (bool, error) {
	var res sql.Result
	var err error

	if r.opts.DeletedAtColumn != "" {
		res, err = idb.NewUpdate().Model(r.handlers.NewRecord()).
			Set("? = ?", bun.Ident(r.opts.DeletedAtColumn), time.Now().UTC()).
			Where("? = ?", bun.Ident(r.opts.IDColumn), id).
			Where("? = ?", bun.Ident(r.opts.ClinicColumn), clinicID).
			Where("? IS NULL", bun.Ident(r.opts.DeletedAtColumn)).
			Exec(ctx)
	} else {
		res, err = idb.NewDelete().Model(r.handlers.NewRecord()).
			Where("? = ?", bun.Ident(r.opts.IDColumn), id).
			Where("? = ?", bun.Ident(r.opts.ClinicColumn), clinicID).
			Exec(ctx)
	}
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// stripProtectedFields drops id and clinic fields from an update payload so
// a caller can never move an entity across tenants or rewrite its key.
func (r *BunRepository[T]) stripProtectedFields(changes map[string]any) map[string]any {
	protected := map[string]struct{}{
		"id":                 {},
		"clinic_id":          {},
		"clinicId":           {},
		"clinicID":           {},
		r.opts.IDColumn:      {},
		r.opts.ClinicColumn:  {},
	}

	out := make(map[string]any, len(changes))
	for key, value := range changes {
		if _, drop := protected[key]; drop {
			continue
		}
		out[key] = value
	}
	return out
}

func (r *BunRepository[T]) invalidateEntity(ctx context.Context, clinicID, id int64) {
	r.cache.Invalidate(ctx, r.opts.Domain, fmt.Sprintf("id:%d", id), clinicID)
	r.cache.InvalidatePattern(ctx, r.opts.Domain, clinicID)
}

func applyFilters(q *bun.SelectQuery, filters []Filter) *bun.SelectQuery {
	for _, f := range filters {
		switch {
		case f.Op == FilterContains:
			like := "%" + fmt.Sprint(f.Value) + "%"
			if f.Or {
				q = q.WhereOr("? LIKE ?", bun.Ident(f.Field), like)
			} else {
				q = q.Where("? LIKE ?", bun.Ident(f.Field), like)
			}
		case f.Or:
			q = q.WhereOr("? = ?", bun.Ident(f.Field), f.Value)
		default:
			q = q.Where("? = ?", bun.Ident(f.Field), f.Value)
		}
	}
	return q
}

func applyOrder(q *bun.SelectQuery, opts PageOptions) *bun.SelectQuery {
	if opts.OrderBy == "" {
		return q
	}
	if strings.EqualFold(opts.OrderDirection, "desc") {
		return q.OrderExpr("? DESC", bun.Ident(opts.OrderBy))
	}
	return q.OrderExpr("? ASC", bun.Ident(opts.OrderBy))
}

// filtersKeyArgs flattens filters into serializer arguments.
func filtersKeyArgs(filters []Filter) []any {
	args := make([]any, len(filters))
	for i, f := range filters {
		args[i] = f
	}
	return args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
