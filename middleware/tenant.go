// Package middleware resolves and enforces the tenant scope at the HTTP
// boundary, so handlers downstream always see a validated clinic id.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-tenant-cache/pkg/errors"
	"github.com/goliatone/go-tenant-cache/tenant"
)

const (
	// CtxIdentityKey is where the authentication layer stores the caller's
	// Identity in the gin context.
	CtxIdentityKey = "tenantIdentity"

	// CtxTenantKey is where ResolveTenant stores the resolved
	// tenant.Context.
	CtxTenantKey = "tenantContext"

	// HeaderClinicID is the fallback header for the clinic id.
	HeaderClinicID = "X-Clinic-ID"
)

// maxBodyPeek bounds how much of a request body the middleware reads when
// looking for the clinic id. Bodies larger than this skip the body stage.
const maxBodyPeek = 1 << 20

// Identity describes the authenticated caller: who they are and which
// clinics they may act on. An elevated role bypasses the membership check.
type Identity struct {
	UserID    string
	Role      string
	ClinicIDs []int64
}

// Authorized reports whether the identity may act on the clinic.
func (id Identity) Authorized(clinicID int64, elevated map[string]struct{}) bool {
	if _, ok := elevated[id.Role]; ok {
		return true
	}
	for _, allowed := range id.ClinicIDs {
		if allowed == clinicID {
			return true
		}
	}
	return false
}

// Options tunes where ResolveTenant looks for the clinic id and which roles
// bypass the clinic membership check. Zero values fall back to the defaults.
type Options struct {
	ParamName     string
	QueryName     string
	BodyField     string
	Header        string
	ElevatedRoles []string
}

func (o Options) withDefaults() Options {
	if o.ParamName == "" {
		o.ParamName = "clinicId"
	}
	if o.QueryName == "" {
		o.QueryName = "clinicId"
	}
	if o.BodyField == "" {
		o.BodyField = "clinicId"
	}
	if o.Header == "" {
		o.Header = HeaderClinicID
	}
	if o.ElevatedRoles == nil {
		o.ElevatedRoles = []string{"admin"}
	}
	return o
}

// ResolveTenant extracts the clinic id from the request, checks it against
// the caller's identity, and stores the resulting tenant.Context in both the
// gin context and the request context.
//
// Resolution order: path parameter, query parameter, JSON body field,
// X-Clinic-ID header. The first source that carries a value wins; a present
// but malformed value fails the request rather than falling through, so a
// typo cannot silently land on another source's clinic.
func ResolveTenant(opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()
	elevated := make(map[string]struct{}, len(opts.ElevatedRoles))
	for _, role := range opts.ElevatedRoles {
		elevated[role] = struct{}{}
	}

	return func(c *gin.Context) {
		clinicID, err := resolveClinicID(c, opts)
		if err != nil {
			abortWithError(c, err)
			return
		}

		tc := tenant.Context{ClinicID: clinicID}
		if identity, ok := IdentityFromGin(c); ok {
			if !identity.Authorized(clinicID, elevated) {
				abortWithError(c, &errors.TenantIsolationError{
					Service:   "http",
					Operation: c.FullPath(),
					ClinicID:  clinicID,
					Reason:    "caller is not a member of the requested clinic",
				})
				return
			}
			tc.UserID = identity.UserID
			tc.UserRole = identity.Role
		}

		c.Set(CtxTenantKey, tc)
		c.Request = c.Request.WithContext(tenant.WithContext(c.Request.Context(), tc))
		c.Next()
	}
}

// IdentityFromGin returns the caller identity stored by the auth layer.
func IdentityFromGin(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

// TenantFromGin returns the tenant scope stored by ResolveTenant.
func TenantFromGin(c *gin.Context) (tenant.Context, bool) {
	v, ok := c.Get(CtxTenantKey)
	if !ok {
		return tenant.Context{}, false
	}
	tc, ok := v.(tenant.Context)
	return tc, ok
}

func resolveClinicID(c *gin.Context, opts Options) (int64, error) {
	if raw := c.Param(opts.ParamName); raw != "" {
		return parseClinicID(raw, "path parameter")
	}
	if raw := c.Query(opts.QueryName); raw != "" {
		return parseClinicID(raw, "query parameter")
	}
	if id, found, err := clinicIDFromBody(c, opts.BodyField); err != nil {
		return 0, err
	} else if found {
		return id, nil
	}
	if raw := c.GetHeader(opts.Header); raw != "" {
		return parseClinicID(raw, "header")
	}
	return 0, errors.NewValidation("clinicId", "clinic id missing from path, query, body, and headers")
}

func parseClinicID(raw, source string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidation("clinicId", "clinic id in "+source+" must be a positive integer")
	}
	return id, nil
}

// clinicIDFromBody peeks at a JSON body for the clinic field and restores
// the body so handlers can still bind it.
func clinicIDFromBody(c *gin.Context, field string) (int64, bool, error) {
	if c.Request.Body == nil || c.ContentType() != "application/json" {
		return 0, false, nil
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyPeek))
	if err != nil {
		return 0, false, errors.NewValidation("body", "request body unreadable")
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var payload map[string]json.RawMessage
	if json.Unmarshal(raw, &payload) != nil {
		return 0, false, nil
	}
	value, ok := payload[field]
	if !ok {
		return 0, false, nil
	}

	var asNumber int64
	if json.Unmarshal(value, &asNumber) == nil {
		if asNumber <= 0 {
			return 0, false, errors.NewValidation("clinicId", "clinic id in body must be a positive integer")
		}
		return asNumber, true, nil
	}
	var asString string
	if json.Unmarshal(value, &asString) == nil && asString != "" {
		id, err := parseClinicID(asString, "body")
		return id, err == nil, err
	}
	return 0, false, errors.NewValidation("clinicId", "clinic id in body must be a positive integer")
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{
		"success": false,
		"error":   gin.H{"message": err.Error()},
	})
}
