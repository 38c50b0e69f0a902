// Package repository implements the tenant-scoped repository contract: CRUD,
// pagination, bulk, and transaction operations that all require a validated
// tenant scope, route reads through the cache facade, and emit an audit
// record for every mutation.
package repository

import (
	"context"
	"math"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenant-cache/tenant"
)

// FilterOp selects how a Filter compares its field against its value.
type FilterOp string

const (
	// FilterEquals matches rows whose column equals the value.
	FilterEquals FilterOp = "eq"

	// FilterContains matches rows whose column contains the value as a
	// substring.
	FilterContains FilterOp = "contains"
)

// Filter is a single predicate applied to list, pagination, and count
// queries. Filters combine with AND by default; a Filter with Or set joins
// the preceding predicates with OR instead.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
	Or    bool
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: FilterEquals, Value: value}
}

// Contains builds a substring filter.
func Contains(field string, value string) Filter {
	return Filter{Field: field, Op: FilterContains, Value: value}
}

// OrWhere builds an equality filter that ORs with the preceding predicates.
func OrWhere(field string, value any) Filter {
	return Filter{Field: field, Op: FilterEquals, Value: value, Or: true}
}

// PageOptions controls FindWithPagination. Limit is not clamped here; the
// request boundary owns that concern.
type PageOptions struct {
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
	OrderBy        string `json:"orderBy,omitempty"`
	OrderDirection string `json:"orderDirection,omitempty"`
}

// PageInfo describes the position of a page within the full result set.
type PageInfo struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Page is the envelope FindWithPagination returns.
type Page[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageInfo `json:"pagination"`
}

// BulkUpdateItem pairs an entity id with the changes to apply to it.
type BulkUpdateItem struct {
	ID      int64          `json:"id"`
	Changes map[string]any `json:"changes"`
}

// Repository is the generic tenant-scoped contract. Every operation
// validates the tenant scope before touching storage; reads go through the
// cache facade, mutations invalidate it and emit audit records.
type Repository[T any] interface {
	FindByClinic(ctx context.Context, tc tenant.Context, filters ...Filter) ([]T, error)
	FindByID(ctx context.Context, tc tenant.Context, id int64) (T, bool, error)
	FindWithPagination(ctx context.Context, tc tenant.Context, opts PageOptions, filters ...Filter) (Page[T], error)
	Count(ctx context.Context, tc tenant.Context, filters ...Filter) (int, error)
	Create(ctx context.Context, tc tenant.Context, record T) (T, error)
	Update(ctx context.Context, tc tenant.Context, id int64, changes map[string]any) (T, error)
	Delete(ctx context.Context, tc tenant.Context, id int64) (bool, error)
	BulkCreate(ctx context.Context, tc tenant.Context, records []T) ([]T, error)
	BulkUpdate(ctx context.Context, tc tenant.Context, updates []BulkUpdateItem) ([]T, error)
	Transaction(ctx context.Context, tc tenant.Context, fn func(ctx context.Context, tx bun.Tx) error) error
}

// newPageInfo derives the pagination envelope from a total row count.
func newPageInfo(total, page, limit int) PageInfo {
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return PageInfo{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}
