package tenant

import (
	"math"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-tenant-cache/pkg/errors"
)

// positionalScanLimit bounds how many leading arguments ExtractContext
// inspects for bare ids and clinic-shaped objects.
const positionalScanLimit = 3

// clinicFieldNames are the struct field spellings recognized as a clinic id.
var clinicFieldNames = []string{"ClinicID", "ClinicId"}

// clinicMapKeys are the map key spellings recognized as a clinic id.
var clinicMapKeys = []string{"clinicId", "clinic_id", "clinicID"}

// ValidationOptions controls which parts of the tenant scope Validate
// enforces.
type ValidationOptions struct {
	RequireClinicID bool
	RequireUserID   bool
}

// ExtractContext scans call arguments for a tenant scope, in order:
// an explicit Context value, a bare positive integer among the first three
// positional arguments, then a struct or map with a clinic-id-like field
// among the first three arguments. Returns nil when none is found.
func ExtractContext(args ...any) *Context {
	for _, arg := range args {
		switch v := arg.(type) {
		case Context:
			return &v
		case *Context:
			if v != nil {
				out := *v
				return &out
			}
		}
	}

	limit := len(args)
	if limit > positionalScanLimit {
		limit = positionalScanLimit
	}

	for _, arg := range args[:limit] {
		if id, ok := asPositiveBareInt(arg); ok {
			return &Context{ClinicID: id}
		}
	}

	for _, arg := range args[:limit] {
		if id, ok := clinicIDFromShape(arg); ok {
			return &Context{ClinicID: id}
		}
	}

	return nil
}

// Validate enforces the tenant scope rules against opts. A failure is always
// a TenantIsolationError, never a generic validation error, so the boundary
// can map it to its distinct signal.
func Validate(tc *Context, opts ValidationOptions) error {
	if opts.RequireClinicID {
		if tc == nil {
			return errors.NewTenantIsolation("missing tenant context")
		}
		if tc.ClinicID <= 0 {
			return errors.NewTenantIsolation("clinic id must be a positive integer")
		}
	}
	if opts.RequireUserID {
		if tc == nil || tc.UserID == "" {
			return errors.NewTenantIsolation("missing user id")
		}
	}
	return nil
}

// Guard couples validation with the audit log line every enforced call
// emits. Repositories call Check at the top of each operation.
type Guard struct {
	service string
	opts    ValidationOptions
	log     *zap.Logger
}

// NewGuard builds a Guard for a named service. A nil logger disables the
// audit line but not the enforcement.
func NewGuard(service string, opts ValidationOptions, log *zap.Logger) Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return Guard{service: service, opts: opts, log: log.Named("tenant")}
}

// Check validates tc and, when enforcement passes, emits the structured
// audit line (service, operation, clinic, user, timestamp).
func (g Guard) Check(operation string, tc Context) error {
	if err := Validate(&tc, g.opts); err != nil {
		var isolation *errors.TenantIsolationError
		if e, ok := err.(*errors.TenantIsolationError); ok {
			isolation = e
		} else {
			isolation = errors.NewTenantIsolation(err.Error())
		}
		isolation.Service = g.service
		isolation.Operation = operation
		isolation.ClinicID = tc.ClinicID
		return isolation
	}

	g.log.Info("tenant scope enforced",
		zap.String("service", g.service),
		zap.String("operation", operation),
		zap.Int64("clinicId", tc.ClinicID),
		zap.String("userId", tc.UserID),
		zap.Time("timestamp", time.Now()))
	return nil
}

// asPositiveBareInt recognizes bare integer clinic ids in any signed or
// unsigned width. Strings are deliberately excluded here: a positional string
// argument is usually an entity identifier, not a clinic id.
func asPositiveBareInt(arg any) (int64, bool) {
	switch v := arg.(type) {
	case int:
		if v > 0 {
			return int64(v), true
		}
	case int32:
		if v > 0 {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	case uint:
		if v > 0 {
			return int64(v), true
		}
	case uint32:
		if v > 0 {
			return int64(v), true
		}
	case uint64:
		if v > 0 && v <= math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

// asPositiveInt additionally accepts JSON number and string spellings, which
// is how clinic ids arrive inside decoded request bodies.
func asPositiveInt(arg any) (int64, bool) {
	if id, ok := asPositiveBareInt(arg); ok {
		return id, true
	}
	switch v := arg.(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), true
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// clinicIDFromShape inspects structs, struct pointers, and maps for a
// clinic-id-like field.
func clinicIDFromShape(arg any) (int64, bool) {
	if arg == nil {
		return 0, false
	}

	if m, ok := arg.(map[string]any); ok {
		for _, key := range clinicMapKeys {
			if raw, present := m[key]; present {
				if id, valid := asPositiveInt(raw); valid {
					return id, true
				}
			}
		}
		return 0, false
	}

	rv := reflect.ValueOf(arg)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0, false
	}

	for _, name := range clinicFieldNames {
		field := rv.FieldByName(name)
		if field.IsValid() && field.CanInterface() {
			if id, ok := asPositiveInt(field.Interface()); ok {
				return id, true
			}
		}
	}
	return 0, false
}
