// Package tenant guarantees that no repository operation executes without an
// authorized, well-formed tenant scope.
package tenant

import "context"

// Context carries the tenant scope of a single call. It is created per
// request from boundary data, passed by value, and never persisted.
//
// ClinicID must be positive whenever isolation is enforced; UserID and
// UserRole are optional and only consulted for audit trails and elevated-role
// bypass decisions.
type Context struct {
	ClinicID int64  `json:"clinicId"`
	UserID   string `json:"userId,omitempty"`
	UserRole string `json:"userRole,omitempty"`
}

// Valid reports whether the context carries a usable clinic scope.
func (c Context) Valid() bool {
	return c.ClinicID > 0
}

type tenantContextKey struct{}

// WithContext embeds a tenant scope into ctx so it can travel through layers
// that only see a context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext extracts a previously embedded tenant scope.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(tenantContextKey{}).(Context)
	return tc, ok
}
