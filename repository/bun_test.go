package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-tenant-cache/audit"
	"github.com/goliatone/go-tenant-cache/cache"
	"github.com/goliatone/go-tenant-cache/pkg/errors"
	"github.com/goliatone/go-tenant-cache/tenant"
)

type Contact struct {
	bun.BaseModel `bun:"table:contacts"`

	ID       int64  `bun:"id,pk,autoincrement" msgpack:"id"`
	ClinicID int64  `bun:"clinic_id,notnull" msgpack:"clinicId"`
	Name     string `bun:"name,notnull" msgpack:"name"`
	Email    string `bun:"email" msgpack:"email"`
}

func contactHandlers() ModelHandlers[*Contact] {
	return ModelHandlers[*Contact]{
		NewRecord:   func() *Contact { return &Contact{} },
		GetID:       func(c *Contact) int64 { return c.ID },
		SetID:       func(c *Contact, id int64) { c.ID = id },
		GetClinicID: func(c *Contact) int64 { return c.ClinicID },
		SetClinicID: func(c *Contact, id int64) { c.ClinicID = id },
		EntityType:  "contact",
	}
}

// mapStore is an in-memory cache.Store for tests.
type mapStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{entries: map[string][]byte{}}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.entries[key]
	return payload, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *mapStore) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *mapStore) IsAvailable(_ context.Context) bool { return true }

// captureRecorder collects audit records for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureRecorder) Record(_ context.Context, rec audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) byOperation(op audit.Operation) []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Record
	for _, rec := range c.records {
		if rec.Operation == op {
			out = append(out, rec)
		}
	}
	return out
}

func newTestRepo(t *testing.T) (*BunRepository[*Contact], *captureRecorder, *bun.DB, *cache.Facade) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	if _, err := db.NewCreateTable().Model((*Contact)(nil)).Exec(context.Background()); err != nil {
		t.Fatalf("create table: %v", err)
	}

	facade, err := cache.NewFacade(newMapStore(), cache.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("facade: %v", err)
	}

	recorder := &captureRecorder{}
	repo, err := NewBunRepository(db, contactHandlers(), facade, recorder, Options{Domain: "contacts"}, zap.NewNop())
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	return repo, recorder, db, facade
}

func scope(clinicID int64) tenant.Context {
	return tenant.Context{ClinicID: clinicID, UserID: "u1", UserRole: "staff"}
}

func TestCreate_ForcesClinicOwnership(t *testing.T) {
	repo, recorder, db, _ := newTestRepo(t)
	ctx := context.Background()

	// The payload claims clinic 99; the tenant scope says 7 and wins.
	created, err := repo.Create(ctx, scope(7), &Contact{ClinicID: 99, Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ClinicID != 7 {
		t.Errorf("expected clinic 7 on the returned record, got %d", created.ClinicID)
	}

	var stored Contact
	if err := db.NewSelect().Model(&stored).Where("id = ?", created.ID).Scan(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.ClinicID != 7 {
		t.Errorf("expected clinic 7 in storage, got %d", stored.ClinicID)
	}

	if got := recorder.byOperation(audit.OperationCreate); len(got) != 1 || got[0].ClinicID != 7 {
		t.Errorf("expected one create audit record for clinic 7, got %+v", got)
	}
}

func TestFindByID_CrossTenantLooksMissing(t *testing.T) {
	repo, _, _, facade := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, scope(1), &Contact{Name: "Ada"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, found, err := repo.FindByID(ctx, scope(1), created.ID); err != nil || !found {
		t.Fatalf("owner lookup: found=%v err=%v", found, err)
	}

	// Another clinic asking for the same id gets the exact shape a missing
	// id produces.
	if _, found, err := repo.FindByID(ctx, scope(2), created.ID); err != nil || found {
		t.Errorf("cross-tenant lookup: found=%v err=%v, want found=false err=nil", found, err)
	}
	if _, found, err := repo.FindByID(ctx, scope(1), created.ID+1000); err != nil || found {
		t.Errorf("missing-id lookup: found=%v err=%v, want found=false err=nil", found, err)
	}
	facade.Flush()
}

func TestUpdate_CrossTenantFailsAsNotFound(t *testing.T) {
	repo, recorder, db, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, scope(1), &Contact{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = repo.Update(ctx, scope(2), created.ID, map[string]any{"name": "Mallory"})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	var stored Contact
	if err := db.NewSelect().Model(&stored).Where("id = ?", created.ID).Scan(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Name != "Ada" {
		t.Errorf("cross-tenant update leaked through, name is %q", stored.Name)
	}
	if got := recorder.byOperation(audit.OperationUpdate); len(got) != 0 {
		t.Errorf("expected no update audit record, got %+v", got)
	}
}

func TestUpdate_AppliesChangesAndStripsProtectedFields(t *testing.T) {
	repo, recorder, _, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, scope(3), &Contact{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := repo.Update(ctx, scope(3), created.ID, map[string]any{
		"name":      "Ada L.",
		"clinic_id": 999,
		"id":        12345,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Ada L." {
		t.Errorf("expected updated name, got %q", updated.Name)
	}
	if updated.ClinicID != 3 || updated.ID != created.ID {
		t.Errorf("protected fields changed: id=%d clinic=%d", updated.ID, updated.ClinicID)
	}

	got := recorder.byOperation(audit.OperationUpdate)
	if len(got) != 1 {
		t.Fatalf("expected one update audit record, got %d", len(got))
	}
	if fields, ok := got[0].Changes["fields"].([]string); !ok || len(fields) != 1 || fields[0] != "name" {
		t.Errorf("expected changed fields [name], got %v", got[0].Changes["fields"])
	}
}

func TestDelete_ReportsWhetherARowWasRemoved(t *testing.T) {
	repo, recorder, _, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, scope(4), &Contact{Name: "Ada"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if deleted, err := repo.Delete(ctx, scope(5), created.ID); err != nil || deleted {
		t.Errorf("cross-tenant delete: deleted=%v err=%v, want false, nil", deleted, err)
	}
	if deleted, err := repo.Delete(ctx, scope(4), created.ID); err != nil || !deleted {
		t.Fatalf("owner delete: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := repo.Delete(ctx, scope(4), created.ID); err != nil || deleted {
		t.Errorf("second delete: deleted=%v err=%v, want false, nil", deleted, err)
	}

	if got := recorder.byOperation(audit.OperationDelete); len(got) != 1 {
		t.Errorf("expected exactly one delete audit record, got %d", len(got))
	}
}

func TestFindByClinic_ScopedAndFiltered(t *testing.T) {
	repo, _, _, facade := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.Create(ctx, scope(1), &Contact{Name: fmt.Sprintf("c1-%d", i)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := repo.Create(ctx, scope(2), &Contact{Name: "c2-0"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := repo.FindByClinic(ctx, scope(1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records for clinic 1, got %d", len(records))
	}
	for _, record := range records {
		if record.ClinicID != 1 {
			t.Errorf("foreign record leaked into the list: %+v", record)
		}
	}

	filtered, err := repo.FindByClinic(ctx, scope(1), Contains("name", "c1-1"))
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "c1-1" {
		t.Errorf("unexpected filtered result %+v", filtered)
	}
	facade.Flush()
}

func TestFindWithPagination_LastPartialPage(t *testing.T) {
	repo, _, _, facade := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		if _, err := repo.Create(ctx, scope(1), &Contact{Name: fmt.Sprintf("c-%03d", i)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page, err := repo.FindWithPagination(ctx, scope(1), PageOptions{Page: 3, Limit: 20, OrderBy: "name"})
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}

	if len(page.Data) != 5 {
		t.Errorf("expected 5 rows on the last page, got %d", len(page.Data))
	}
	info := page.Pagination
	if info.Total != 45 || info.TotalPages != 3 {
		t.Errorf("unexpected totals %+v", info)
	}
	if info.HasNext || !info.HasPrev {
		t.Errorf("unexpected page flags %+v", info)
	}
	facade.Flush()
}

func TestBulkCreate_AllOrNothingWithForcedOwnership(t *testing.T) {
	repo, recorder, _, _ := newTestRepo(t)
	ctx := context.Background()

	records := []*Contact{
		{ClinicID: 50, Name: "a"},
		{ClinicID: 60, Name: "b"},
	}
	created, err := repo.BulkCreate(ctx, scope(9), records)
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	for _, record := range created {
		if record.ClinicID != 9 {
			t.Errorf("expected forced clinic 9, got %d", record.ClinicID)
		}
	}
	if got := recorder.byOperation(audit.OperationCreate); len(got) != 2 {
		t.Errorf("expected 2 create audit records, got %d", len(got))
	}
}

func TestBulkUpdate_RollsBackOnAnyMissingEntity(t *testing.T) {
	repo, recorder, db, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, scope(1), &Contact{Name: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = repo.BulkUpdate(ctx, scope(1), []BulkUpdateItem{
		{ID: first.ID, Changes: map[string]any{"name": "renamed"}},
		{ID: first.ID + 1000, Changes: map[string]any{"name": "ghost"}},
	})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	var stored Contact
	if err := db.NewSelect().Model(&stored).Where("id = ?", first.ID).Scan(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Name != "first" {
		t.Errorf("partial bulk update survived the rollback, name is %q", stored.Name)
	}
	if got := recorder.byOperation(audit.OperationUpdate); len(got) != 0 {
		t.Errorf("expected no update audit records after rollback, got %d", len(got))
	}
}

func TestBulkUpdate_AppliesEveryItem(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)
	ctx := context.Background()

	a, _ := repo.Create(ctx, scope(1), &Contact{Name: "a"})
	b, _ := repo.Create(ctx, scope(1), &Contact{Name: "b"})

	updated, err := repo.BulkUpdate(ctx, scope(1), []BulkUpdateItem{
		{ID: a.ID, Changes: map[string]any{"name": "a2"}},
		{ID: b.ID, Changes: map[string]any{"email": "b@example.com"}},
	})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 results, got %d", len(updated))
	}
	if updated[0].Name != "a2" || updated[1].Email != "b@example.com" {
		t.Errorf("unexpected results %+v %+v", updated[0], updated[1])
	}
}

func TestTransaction_WrapsCallbackErrors(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)
	ctx := context.Background()

	err := repo.Transaction(ctx, scope(6), func(ctx context.Context, tx bun.Tx) error {
		return fmt.Errorf("business rule violated")
	})
	if !errors.IsValidation(err) {
		t.Fatalf("expected a wrapped validation error, got %v", err)
	}
}

func TestRepository_RejectsUnscopedCalls(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.FindByClinic(ctx, tenant.Context{ClinicID: 0})
	if !errors.IsTenantIsolation(err) {
		t.Fatalf("expected TenantIsolationError, got %v", err)
	}
	_, err = repo.Create(ctx, tenant.Context{ClinicID: -3}, &Contact{Name: "x"})
	if !errors.IsTenantIsolation(err) {
		t.Fatalf("expected TenantIsolationError, got %v", err)
	}
}

func TestSoftDelete_StampsInsteadOfRemoving(t *testing.T) {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	type SoftContact struct {
		bun.BaseModel `bun:"table:soft_contacts"`

		ID        int64      `bun:"id,pk,autoincrement" msgpack:"id"`
		ClinicID  int64      `bun:"clinic_id,notnull" msgpack:"clinicId"`
		Name      string     `bun:"name" msgpack:"name"`
		DeletedAt *time.Time `bun:"deleted_at,nullzero" msgpack:"deletedAt"`
	}
	if _, err := db.NewCreateTable().Model((*SoftContact)(nil)).Exec(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}

	facade, err := cache.NewFacade(newMapStore(), cache.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("facade: %v", err)
	}
	repo, err := NewBunRepository(db, ModelHandlers[*SoftContact]{
		NewRecord:   func() *SoftContact { return &SoftContact{} },
		GetID:       func(c *SoftContact) int64 { return c.ID },
		SetID:       func(c *SoftContact, id int64) { c.ID = id },
		GetClinicID: func(c *SoftContact) int64 { return c.ClinicID },
		SetClinicID: func(c *SoftContact, id int64) { c.ClinicID = id },
		EntityType:  "softContact",
	}, facade, audit.Nop(), Options{Domain: "contacts", DeletedAtColumn: "deleted_at"}, zap.NewNop())
	if err != nil {
		t.Fatalf("repository: %v", err)
	}

	created, err := repo.Create(ctx, scope(1), &SoftContact{Name: "soft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deleted, err := repo.Delete(ctx, scope(1), created.ID); err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}

	// The row is still physically present but invisible to reads.
	if _, found, err := repo.FindByID(ctx, scope(1), created.ID); err != nil || found {
		t.Errorf("soft-deleted row still visible: found=%v err=%v", found, err)
	}
	var stored SoftContact
	if err := db.NewSelect().Model(&stored).Where("id = ?", created.ID).Scan(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.DeletedAt == nil {
		t.Error("expected a deleted_at stamp")
	}
}

func TestNewBunRepository_RejectsUnregisteredDomain(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	facade, err := cache.NewFacade(newMapStore(), cache.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("facade: %v", err)
	}

	// "billing" is not in the facade's domain table; binding to it must
	// fail at construction, not degrade into a cache bypass at call time.
	_, err = NewBunRepository(db, contactHandlers(), facade, audit.Nop(), Options{Domain: "billing"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected an error for an unregistered cache domain")
	}
	if !strings.Contains(err.Error(), "billing") {
		t.Errorf("error should name the offending domain, got %v", err)
	}
}

func TestNewPageInfo(t *testing.T) {
	cases := []struct {
		name  string
		total int
		page  int
		limit int
		want  PageInfo
	}{
		{
			name: "middle page", total: 45, page: 2, limit: 20,
			want: PageInfo{Total: 45, Page: 2, Limit: 20, TotalPages: 3, HasNext: true, HasPrev: true},
		},
		{
			name: "last partial page", total: 45, page: 3, limit: 20,
			want: PageInfo{Total: 45, Page: 3, Limit: 20, TotalPages: 3, HasNext: false, HasPrev: true},
		},
		{
			name: "empty set", total: 0, page: 1, limit: 20,
			want: PageInfo{Total: 0, Page: 1, Limit: 20, TotalPages: 0, HasNext: false, HasPrev: false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := newPageInfo(tc.total, tc.page, tc.limit); got != tc.want {
				t.Errorf("newPageInfo(%d, %d, %d) = %+v, want %+v", tc.total, tc.page, tc.limit, got, tc.want)
			}
		})
	}
}
